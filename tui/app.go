package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/controlcash/cashmail/auth"
	"github.com/controlcash/cashmail/config"
	"github.com/controlcash/cashmail/invoice"
	"github.com/controlcash/cashmail/store"
)

const (
	PageConnect   = "connect"
	PageDashboard = "dashboard"
	PageDetail    = "detail"
)

// App is the caller surface around the extraction engine: it owns the busy
// flag that prevents re-entrant runs, renders progress, and hands finished
// records to the staging store.
type App struct {
	*tview.Application
	rootPages   *tview.Pages
	connectView *ConnectView
	recordTable *RecordTableView
	detailView  *DetailView
	statusBar   *tview.TextView

	cfg     *config.Config
	authMgr *auth.Manager
	scanner *invoice.Scanner
	prober  ConnectionProber
	db      *store.Store
	log     *zap.Logger

	// isExtracting guards against re-entrant extraction triggers. It is
	// only touched on the UI goroutine (key handlers and QueueUpdateDraw
	// callbacks), so no lock is needed.
	isExtracting bool
	isConnecting bool
	records      []invoice.Record
	lastRun      *store.Run
}

// ConnectionProber verifies a stored token with a cheap provider call.
// gmail.Client satisfies it.
type ConnectionProber interface {
	Probe(ctx context.Context) error
}

// NewApp assembles the full UI. The dashboard is shown when a connection
// already exists; otherwise the connect page comes first.
func NewApp(cfg *config.Config, authMgr *auth.Manager, scanner *invoice.Scanner, prober ConnectionProber, db *store.Store, log *zap.Logger) *App {
	a := &App{
		Application: tview.NewApplication(),
		cfg:         cfg,
		authMgr:     authMgr,
		scanner:     scanner,
		prober:      prober,
		db:          db,
		log:         log,
	}

	a.connectView = NewConnectView()
	a.recordTable = NewRecordTableView(a)
	a.detailView = NewDetailView()

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.statusBar.SetBackgroundColor(tcell.ColorDefault)

	dashboard := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.recordTable.Table, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	dashboard.SetBackgroundColor(tcell.ColorDefault)

	a.rootPages = tview.NewPages().
		AddPage(PageConnect, a.connectView, true, !authMgr.IsConnected()).
		AddPage(PageDashboard, dashboard, true, authMgr.IsConnected()).
		AddPage(PageDetail, a.detailView, true, false)

	a.Application.SetRoot(a.rootPages, true).EnableMouse(true)
	a.setGlobalKeybindings()
	a.setStandardStatusMessage()

	return a
}

func (a *App) Run() error {
	go a.loadStagedRecords()
	if a.authMgr.IsConnected() {
		go a.verifyConnection()
	}
	return a.Application.Run()
}

// verifyConnection probes the stored token on startup so a stale session is
// reported before the first extraction run, not during it.
func (a *App) verifyConnection() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := a.prober.Probe(ctx)
	if err == nil {
		return
	}
	a.log.Warn("connection probe failed", zap.Error(err))
	if errors.Is(err, auth.ErrReconnectRequired) || errors.Is(err, auth.ErrNotConnected) {
		a.QueueUpdateDraw(func() {
			a.setStatus("[red]Gmail session expired. Press C to reconnect.", true)
			a.rootPages.SwitchToPage(PageConnect)
		})
	}
}

func (a *App) setGlobalKeybindings() {
	a.Application.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.rootPages.GetFrontPage()
		if event.Key() == tcell.KeyCtrlC {
			a.Stop()
			return nil
		}

		switch currentPage {
		case PageDetail:
			if event.Key() == tcell.KeyEscape {
				a.showDashboard()
				return nil
			}
		case PageConnect:
			if event.Rune() == 'c' || event.Rune() == 'C' {
				a.startConnectFlow()
				return nil
			}
			if event.Rune() == 'q' || event.Rune() == 'Q' {
				a.Stop()
				return nil
			}
		case PageDashboard:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				a.startExtraction()
				return nil
			case 'e', 'E':
				a.exportCSV()
				return nil
			case 'c', 'C':
				a.rootPages.SwitchToPage(PageConnect)
				return nil
			}
		}
		return event
	})
}

// startConnectFlow begins the OAuth flow: the consent URL is displayed, a
// loopback listener waits for the redirect, and the flow resumes when the
// callback delivers the code. The page flips to the dashboard on success.
func (a *App) startConnectFlow() {
	if a.isConnecting {
		return
	}
	a.isConnecting = true

	authURL := a.authMgr.RequestAuthorization()
	a.connectView.ShowAuthURL(authURL)
	a.setStatus("[yellow]Waiting for Google authorization in the browser...", false)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		err := a.authMgr.AwaitCallback(ctx, a.cfg.OAuth.ListenAddr)

		a.QueueUpdateDraw(func() {
			a.isConnecting = false
			if err != nil {
				a.log.Warn("gmail connect failed", zap.Error(err))
				a.connectView.ShowError(err)
				a.setStatus(fmt.Sprintf("[red]Connect failed: %v", err), true)
				return
			}
			a.setStatus("[green]Gmail connected.", false)
			a.showDashboard()
		})
	}()
}

// startExtraction triggers one extraction run. The busy flag makes the
// trigger non-re-entrant; the engine itself stays free of global state.
func (a *App) startExtraction() {
	if a.isExtracting {
		a.setStatus("[yellow]An extraction run is already in progress.", false)
		return
	}
	if !a.authMgr.IsConnected() {
		a.setStatus("[red]Not connected to Gmail. Press C to connect.", true)
		a.rootPages.SwitchToPage(PageConnect)
		return
	}
	a.isExtracting = true
	daysBack := a.cfg.Extraction.DaysBack
	a.setStatus(fmt.Sprintf("[yellow]Searching the last %d days...", daysBack), false)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		var msgTotal int
		progress := func(done, total int) {
			msgTotal = total
			a.QueueUpdateDraw(func() {
				a.setStatus(fmt.Sprintf("[yellow]Processing messages... %d/%d", done, total), false)
			})
		}

		recs, err := a.scanner.Search(ctx, daysBack, progress)
		var runErr error
		if err == nil && len(recs) > 0 {
			_, runErr = a.db.SaveRun(ctx, daysBack, msgTotal, recs)
		}

		a.QueueUpdateDraw(func() {
			a.isExtracting = false
			switch {
			case errors.Is(err, auth.ErrNotConnected) || errors.Is(err, auth.ErrReconnectRequired):
				a.setStatus("[red]Gmail session expired. Press C to reconnect.", true)
				a.rootPages.SwitchToPage(PageConnect)
			case err != nil:
				a.log.Error("extraction run failed", zap.Error(err))
				a.setStatus(fmt.Sprintf("[red]Extraction failed: %v", err), true)
			case len(recs) == 0:
				a.setStatus("[::d]No invoices or receipts found in the selected window.", false)
			default:
				if runErr != nil {
					a.log.Error("saving extraction run", zap.Error(runErr))
				}
				a.records = recs
				a.recordTable.SetRecords(recs)
				a.setStatus(fmt.Sprintf("[green]Found %d records. [::b]E[::-]:Export  [::b]Ent[::-]:Detail", len(recs)), false)
			}
		})
	}()
}

func (a *App) loadStagedRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recs, err := a.db.LoadRecords(ctx)
	if err != nil {
		a.log.Warn("loading staged records", zap.Error(err))
		return
	}
	var last *store.Run
	if runs, err := a.db.Runs(ctx, 1); err != nil {
		a.log.Warn("loading run history", zap.Error(err))
	} else if len(runs) > 0 {
		last = &runs[0]
	}
	if len(recs) == 0 && last == nil {
		return
	}
	a.QueueUpdateDraw(func() {
		a.records = recs
		a.lastRun = last
		a.recordTable.SetRecords(recs)
		a.setStandardStatusMessage()
	})
}

func (a *App) exportCSV() {
	if len(a.records) == 0 {
		a.setStatus("[red]Nothing to export yet. Press R to run an extraction.", true)
		return
	}
	name := fmt.Sprintf("gmail_invoices_%s.csv", time.Now().Format("2006-01-02"))
	f, err := os.Create(name)
	if err != nil {
		a.setStatus(fmt.Sprintf("[red]Export failed: %v", err), true)
		return
	}
	defer f.Close()
	if err := invoice.WriteCSV(f, a.records); err != nil {
		a.setStatus(fmt.Sprintf("[red]Export failed: %v", err), true)
		return
	}
	a.setStatus(fmt.Sprintf("[green]Exported %d records to %s", len(a.records), name), false)
}

func (a *App) showDetail(rec invoice.Record) {
	a.detailView.SetRecord(rec)
	a.rootPages.SwitchToPage(PageDetail)
	a.Application.SetFocus(a.detailView.textView)
}

func (a *App) showDashboard() {
	a.rootPages.SwitchToPage(PageDashboard)
	a.Application.SetFocus(a.recordTable.Table)
}

func (a *App) setStatus(msg string, isError bool) {
	a.statusBar.SetText(" " + msg)
	if isError {
		a.log.Warn("status", zap.String("message", msg))
	}
}

func (a *App) setStandardStatusMessage() {
	lastRun := "never"
	if a.lastRun != nil {
		lastRun = a.lastRun.StartedAt.Local().Format("2006-01-02 15:04")
	}
	a.statusBar.SetText(fmt.Sprintf(
		" [::d]%d records staged | last run %s | [::b]R[::-]:Run  [::b]E[::-]:Export  [::b]C[::-]:Connect  [::b]Q[::-]:Quit",
		len(a.records), lastRun))
}
