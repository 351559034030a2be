package tui

import (
	"fmt"
	"strconv"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/controlcash/cashmail/invoice"
)

// ConnectView explains the Gmail connection flow and shows the consent URL
// once a flow has been started.
type ConnectView struct {
	*tview.Flex
	textView *tview.TextView
}

func NewConnectView() *ConnectView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	tv.SetBackgroundColor(tcell.ColorDefault)
	tv.SetText(connectWelcomeText)

	frame := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tv, 0, 1, true)
	frame.SetBorder(true).SetTitle(" Connect Gmail ")
	frame.SetBackgroundColor(tcell.ColorDefault)

	return &ConnectView{Flex: frame, textView: tv}
}

const connectWelcomeText = `
 [::b]cashmail[::-] extracts invoices and receipts from your Gmail inbox.

 It needs read-only access to your mail. Press [::b]C[::-] to start the
 Google authorization flow; a browser window will open for consent and
 the application resumes automatically once Google redirects back.

 [::b]C[::-]:Connect   [::b]Q[::-]:Quit
`

// ShowAuthURL displays the consent URL for users whose browser did not open.
func (v *ConnectView) ShowAuthURL(url string) {
	v.textView.SetText(fmt.Sprintf(`
 Open this URL in your browser to authorize cashmail:

 [blue::u]%s[-:-:-]

 Waiting for the redirect...
`, url))
}

func (v *ConnectView) ShowError(err error) {
	v.textView.SetText(fmt.Sprintf(`
 [red]Authorization failed:[-] %v

 Press [::b]C[::-] to try again, or [::b]Q[::-] to quit.
`, err))
}

// RecordTableView lists extracted records, newest first.
type RecordTableView struct {
	*tview.Table
	app     *App
	records []invoice.Record
}

func NewRecordTableView(app *App) *RecordTableView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBackgroundColor(tcell.ColorDefault)
	table.SetBorder(true).SetTitle(" Extracted Records ")

	v := &RecordTableView{Table: table, app: app}

	table.SetSelectedFunc(func(row, col int) {
		idx := row - 1 // header row
		if idx >= 0 && idx < len(v.records) {
			v.app.showDetail(v.records[idx])
		}
	})

	v.renderHeader()
	return v
}

func (v *RecordTableView) renderHeader() {
	for col, title := range []string{"Date", "Supplier", "Amount", "Currency", "Subject"} {
		v.Table.SetCell(0, col, tview.NewTableCell("[::b]"+title).
			SetSelectable(false).
			SetExpansion(1))
	}
}

// SetRecords replaces the table contents.
func (v *RecordTableView) SetRecords(recs []invoice.Record) {
	v.records = recs
	v.Table.Clear()
	v.renderHeader()
	for i, r := range recs {
		row := i + 1
		v.Table.SetCell(row, 0, tview.NewTableCell(r.Date.Local().Format("2006-01-02")))
		v.Table.SetCell(row, 1, tview.NewTableCell(truncate(r.Supplier, 30)))
		v.Table.SetCell(row, 2, tview.NewTableCell(strconv.FormatFloat(r.Amount, 'f', 2, 64)).
			SetAlign(tview.AlignRight))
		v.Table.SetCell(row, 3, tview.NewTableCell(r.Currency))
		v.Table.SetCell(row, 4, tview.NewTableCell(truncate(r.Subject, 50)).SetExpansion(2))
	}
	if len(recs) > 0 {
		v.Table.Select(1, 0)
	}
}

// DetailView shows one record with the raw excerpt kept for verification.
type DetailView struct {
	*tview.Frame
	textView *tview.TextView
}

func NewDetailView() *DetailView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true)
	tv.SetBackgroundColor(tcell.ColorDefault)

	frame := tview.NewFrame(tv).
		AddText("Press Esc to go back", false, tview.AlignCenter, tcell.ColorDimGray)
	frame.SetBorder(true).SetTitle(" Record ")
	frame.SetBackgroundColor(tcell.ColorDefault)

	return &DetailView{Frame: frame, textView: tv}
}

func (v *DetailView) SetRecord(r invoice.Record) {
	text := fmt.Sprintf("%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n\n%s\n\n%s",
		HeaderKeyStyle.Render("Supplier:"), r.Supplier,
		HeaderKeyStyle.Render("Amount:  "), AmountStyle.Render(fmt.Sprintf("%.2f %s", r.Amount, r.Currency)),
		HeaderKeyStyle.Render("Date:    "), r.Date.Local().Format("2006-01-02 15:04"),
		HeaderKeyStyle.Render("Subject: "), r.Subject,
		HeaderKeyStyle.Render("Source:  "), r.Source,
		ExcerptStyle.Render("--- raw excerpt ---"),
		r.RawExcerpt)
	v.textView.SetText(tview.TranslateANSI(text))
	v.textView.ScrollToBeginning()
}

// truncate shortens a string to a max length in runes, adding "..." if
// truncated. Rune slicing keeps multibyte text (Hebrew suppliers and
// subjects) intact.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	// Ensure maxLen is not negative or zero to avoid slice panic.
	if maxLen <= 0 {
		return ""
	}
	if maxLen < 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
