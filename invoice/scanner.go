package invoice

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/controlcash/cashmail/auth"
)

// MailSource is the retrieval surface the scanner needs. *gmail.Client
// satisfies it; tests substitute an in-memory source.
type MailSource interface {
	Search(ctx context.Context, daysBack int) ([]string, error)
	FetchFull(ctx context.Context, id string) (*gmailv1.Message, error)
}

// Connection reports whether an access token is on hand. *auth.Manager
// satisfies it.
type Connection interface {
	IsConnected() bool
}

// ProgressFunc receives advisory progress: messages processed so far out of
// the run's total. It is called from the scan goroutine.
type ProgressFunc func(processed, total int)

const (
	fetchWorkers = 8

	// defaultMaxMessages is the processing cap used when the configured
	// value is missing or nonsensical.
	defaultMaxMessages = 50
)

// Scanner runs one extraction pass: search, then an independent
// fetch-decode-extract step per message, then deduplication. Nothing is
// cached between runs; re-running a window re-fetches from the provider.
type Scanner struct {
	conn        Connection
	source      MailSource
	extractor   *Extractor
	maxMessages int
	log         *zap.Logger
}

// NewScanner wires a Scanner. maxMessages bounds how many of the listed
// message ids one run will fetch and parse; zero or negative values fall back
// to the default cap.
func NewScanner(conn Connection, source MailSource, extractor *Extractor, maxMessages int, log *zap.Logger) *Scanner {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &Scanner{
		conn:        conn,
		source:      source,
		extractor:   extractor,
		maxMessages: maxMessages,
		log:         log,
	}
}

// Search extracts financial records from mail of the last daysBack days.
// It fails immediately, with no network traffic, when not connected. A token
// rejection anywhere fails the whole run with auth.ErrReconnectRequired; any
// other per-message failure is logged and that message is skipped. progress
// may be nil.
func (s *Scanner) Search(ctx context.Context, daysBack int, progress ProgressFunc) ([]Record, error) {
	if !s.conn.IsConnected() {
		return nil, auth.ErrNotConnected
	}

	ids, err := s.source.Search(ctx, daysBack)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}
	if len(ids) > s.maxMessages {
		ids = ids[:s.maxMessages]
	}
	total := len(ids)

	type job struct {
		idx int
		id  string
	}
	type outcome struct {
		idx int
		rec Record
		ok  bool
		err error
	}

	// Per-message steps share no state, so they run on a bounded pool.
	// Order is restored by index afterwards.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job)
	results := make(chan outcome, total)

	var wg sync.WaitGroup
	wg.Add(fetchWorkers)
	for i := 0; i < fetchWorkers; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				msg, err := s.source.FetchFull(ctx, j.id)
				if err != nil {
					results <- outcome{idx: j.idx, err: err}
					continue
				}
				rec, ok := s.extractor.Extract(msg)
				results <- outcome{idx: j.idx, rec: rec, ok: ok}
			}
		}()
	}

	go func() {
	queue:
		for i, id := range ids {
			select {
			case <-ctx.Done():
				break queue
			case jobs <- job{idx: i, id: id}:
			}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	slots := make([]*Record, total)
	processed := 0
	var authErr error
	for r := range results {
		processed++
		if progress != nil {
			progress(processed, total)
		}
		switch {
		case r.err != nil && errors.Is(r.err, auth.ErrReconnectRequired):
			// Fatal for the whole run; stop feeding the pool.
			if authErr == nil {
				authErr = r.err
			}
			cancel()
		case r.err != nil:
			s.log.Warn("skipping message", zap.Int("index", r.idx), zap.Error(r.err))
		case r.ok:
			rec := r.rec
			slots[r.idx] = &rec
		default:
			// No extractable amount: filtered input, not a failure.
			s.log.Debug("message had no financial content", zap.Int("index", r.idx))
		}
	}

	if authErr != nil {
		return nil, authErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]Record, 0, total)
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	deduped := Dedupe(records)
	s.log.Info("extraction run complete",
		zap.Int("messages", total),
		zap.Int("records", len(deduped)))
	return deduped, nil
}
