package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"mailweave/internal/domain"
	sqlitestore "mailweave/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/mailweave.db", "sqlite database path written by simulate")
	flag.Parse()

	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open mailbox db: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate mailbox db: %v\n", err)
		os.Exit(1)
	}

	names, err := characterNames(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load characters: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()

	folderList := tview.NewList().ShowSecondaryText(false)
	folderList.SetTitle("Folders (F5 refresh, F10 quit)").SetBorder(true)

	messagesTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	messagesTable.SetTitle("Messages").SetBorder(true)

	bodyView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	bodyView.SetTitle("Message").SetBorder(true)

	statusView := tview.NewTextView().SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Reading %s | Tab cycles panes, Enter opens, t shows full thread", *dbPath))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(messagesTable, 0, 1, false).
		AddItem(bodyView, 0, 2, false)
	mainLayout := tview.NewFlex().
		AddItem(folderList, 26, 0, true).
		AddItem(right, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 1, true).
		AddItem(statusView, 3, 0, false)

	var currentFolder domain.Folder
	var currentEmails []domain.Email

	showBody := func(em domain.Email, thread bool) {
		if thread {
			emails, err := store.ListThreadEmails(ctx, em.ThreadID)
			if err != nil {
				bodyView.SetText(fmt.Sprintf("error: %v", err))
				return
			}
			bodyView.SetText(renderThread(emails, names))
			bodyView.ScrollToBeginning()
			return
		}
		bodyView.SetText(renderEmail(em, names))
		bodyView.ScrollToBeginning()
	}

	loadFolder := func(folder domain.Folder) {
		emails, err := store.ListEmails(ctx, folder)
		if err != nil {
			statusView.SetText(fmt.Sprintf("load %s: %v", folder, err))
			return
		}
		currentFolder = folder
		currentEmails = emails
		renderMessagesTable(messagesTable, emails, names)
		if len(emails) > 0 {
			messagesTable.Select(1, 0)
			showBody(emails[0], false)
		} else {
			bodyView.SetText("Empty folder")
		}
		statusView.SetText(fmt.Sprintf("%s: %d messages", folder, len(emails)))
	}

	refreshFolders := func() {
		folders, err := store.ListFolders(ctx)
		if err != nil {
			statusView.SetText(fmt.Sprintf("load folders: %v", err))
			return
		}
		ordered := make([]string, 0, len(folders))
		for f := range folders {
			ordered = append(ordered, string(f))
		}
		sort.Strings(ordered)

		folderList.Clear()
		for _, name := range ordered {
			folder := domain.Folder(name)
			folderList.AddItem(fmt.Sprintf("%s (%d)", name, folders[folder]), "", 0, func() {
				loadFolder(folder)
				app.SetFocus(messagesTable)
			})
		}
		if currentFolder == "" && len(ordered) > 0 {
			loadFolder(domain.Folder(ordered[0]))
		}
	}

	messagesTable.SetSelectionChangedFunc(func(row, _ int) {
		if row <= 0 || row > len(currentEmails) {
			return
		}
		showBody(currentEmails[row-1], false)
	})
	messagesTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(currentEmails) {
			return
		}
		showBody(currentEmails[row-1], false)
		app.SetFocus(bodyView)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			refreshFolders()
			if currentFolder != "" {
				loadFolder(currentFolder)
			}
			statusView.SetText("Refreshed")
			return nil
		case tcell.KeyTAB:
			switch app.GetFocus() {
			case folderList:
				app.SetFocus(messagesTable)
			case messagesTable:
				app.SetFocus(bodyView)
			default:
				app.SetFocus(folderList)
			}
			return nil
		case tcell.KeyEscape:
			app.SetFocus(folderList)
			return nil
		}
		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				app.Stop()
				return nil
			case 't':
				row, _ := messagesTable.GetSelection()
				if row > 0 && row <= len(currentEmails) {
					showBody(currentEmails[row-1], true)
					app.SetFocus(bodyView)
				}
				return nil
			}
		}
		return event
	})

	refreshFolders()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(folderList).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mailbox failed: %v\n", err)
		os.Exit(1)
	}
}

func characterNames(ctx context.Context, store *sqlitestore.Store) (map[string]string, error) {
	characters, err := store.ListCharacters(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(characters))
	for _, c := range characters {
		names[c.ID] = c.Name
	}
	return names, nil
}

func renderMessagesTable(table *tview.Table, emails []domain.Email, names map[string]string) {
	table.Clear()
	headers := []string{"Sent", "From", "Subject"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, em := range emails {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(em.SentAt.Format("Jan 02 15:04")))
		table.SetCell(row, 1, tview.NewTableCell(displayName(em.From, names)))
		table.SetCell(row, 2, tview.NewTableCell(trimLine(em.Subject, 56)))
	}
}

func renderEmail(em domain.Email, names map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", displayName(em.From, names))
	to := make([]string, 0, len(em.To))
	for _, id := range em.To {
		to = append(to, displayName(id, names))
	}
	fmt.Fprintf(&b, "To: %s\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Date: %s\n", em.SentAt.Format("Mon, 02 Jan 2006 15:04"))
	fmt.Fprintf(&b, "Subject: %s\n", em.Subject)
	if em.Provenance.Fallback {
		b.WriteString("(template fallback)\n")
	}
	b.WriteString("\n")
	b.WriteString(em.Body)
	return b.String()
}

func renderThread(emails []domain.Email, names map[string]string) string {
	if len(emails) == 0 {
		return "Empty thread"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Thread: %s (%d messages)\n\n", emails[0].Subject, len(emails))
	for _, em := range emails {
		fmt.Fprintf(
			&b,
			"--- %s | %s ---\n%s\n\n",
			displayName(em.From, names),
			em.SentAt.Format("Jan 02 15:04"),
			em.Body,
		)
	}
	return b.String()
}

func displayName(id string, names map[string]string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return id
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
