package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querycache/async"
	"github.com/unkn0wn-root/querycache/listitems"
)

func listCmd(appFn func() *app) *cobra.Command {
	var (
		filter   string
		reading  bool
		finished bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show your reading list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			co, err := coordinator(cmd.Context(), appFn())
			if err != nil {
				return err
			}
			items, err := co.List(cmd.Context())
			if err != nil {
				return err
			}
			switch {
			case reading && !finished:
				items = listitems.Reading(items)
			case finished && !reading:
				items = listitems.Finished(items)
			}
			items = listitems.Filter(items, filter)
			if len(items) == 0 {
				fmt.Println("Nothing here yet. Find a book with `bookshelf search` and `bookshelf add` it.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BOOK\tTITLE\tSTARTED\tFINISHED\tRATING")
			for _, li := range items {
				title := li.BookID
				if li.Book != nil {
					title = li.Book.Title
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", li.BookID, title,
					date(&li.StartDate), date(li.FinishDate), stars(li.Rating))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "fuzzy match on title and author")
	cmd.Flags().BoolVar(&reading, "reading", false, "only books not finished yet")
	cmd.Flags().BoolVar(&finished, "finished", false, "only finished books")
	return cmd
}

func addCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <book-id>",
		Short: "Put a book on your list",
		Args:  requireArgs(1, "add <book-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := coordinator(cmd.Context(), appFn())
			if err != nil {
				return err
			}
			li, err := co.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			success("Added %s", titleOf(li))
			return nil
		},
	}
}

func finishCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "finish <book-id>",
		Short: "Mark a book as read",
		Args:  requireArgs(1, "finish <book-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchItem(cmd.Context(), appFn(), args[0], func(li listitems.ListItem) listitems.Patch {
				return listitems.Finish(li.ID, time.Now().UnixMilli())
			})
		},
	}
}

func unfinishCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unfinish <book-id>",
		Short: "Move a book back to reading",
		Args:  requireArgs(1, "unfinish <book-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchItem(cmd.Context(), appFn(), args[0], func(li listitems.ListItem) listitems.Patch {
				return listitems.Unfinish(li.ID)
			})
		},
	}
}

func updateCmd(appFn func() *app) *cobra.Command {
	var (
		notes  string
		rating int
	)
	cmd := &cobra.Command{
		Use:   "update <book-id>",
		Short: "Change the notes or rating of a list entry",
		Args:  requireArgs(1, "update <book-id> [--notes text] [--rating 0-5]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			setNotes, setRating := cmd.Flags().Changed("notes"), cmd.Flags().Changed("rating")
			if !setNotes && !setRating {
				return fmt.Errorf("nothing to update: pass --notes or --rating")
			}
			if setRating && (rating < 0 || rating > 5) {
				return fmt.Errorf("rating must be between 0 and 5")
			}
			return patchItem(cmd.Context(), appFn(), args[0], func(li listitems.ListItem) listitems.Patch {
				p := listitems.Patch{ID: li.ID}
				if setNotes {
					p.Notes = &notes
				}
				if setRating {
					p.Rating = &rating
				}
				return p
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().IntVar(&rating, "rating", 0, "rating from 0 to 5")
	return cmd
}

func removeCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <book-id>",
		Short: "Take a book off your list",
		Args:  requireArgs(1, "remove <book-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			co, err := coordinator(ctx, appFn())
			if err != nil {
				return err
			}
			li, err := itemFor(ctx, co, args[0])
			if err != nil {
				return err
			}
			if err := co.Remove(ctx, li.ID); err != nil {
				return err
			}
			success("Removed %s", titleOf(li))
			return nil
		},
	}
}

func coordinator(ctx context.Context, a *app) (*listitems.Coordinator, error) {
	_, req, err := a.signedIn(ctx)
	if err != nil {
		return nil, err
	}
	return a.listItems(req)
}

func itemFor(ctx context.Context, co *listitems.Coordinator, bookID string) (listitems.ListItem, error) {
	li, ok, err := co.ByBook(ctx, bookID)
	if err != nil {
		return li, err
	}
	if !ok {
		return li, fmt.Errorf("book %s is not on your list", bookID)
	}
	return li, nil
}

// patchItem runs an update mutation and reports its progress. The cached
// list shows the change while the request is pending, and goes back to
// what it was if the server refuses.
func patchItem(ctx context.Context, a *app, bookID string, build func(listitems.ListItem) listitems.Patch) error {
	co, err := coordinator(ctx, a)
	if err != nil {
		return err
	}
	li, err := itemFor(ctx, co, bookID)
	if err != nil {
		return err
	}

	m := co.Updater()
	defer m.Close()
	cancel := m.Subscribe(func(st async.State[listitems.ListItem]) {
		if st.Status == async.StatusPending {
			fmt.Printf("  saving %s…\n", titleOf(li))
		}
	})
	defer cancel()

	updated, err := m.MutateAndWait(ctx, build(li))
	if err != nil {
		return err
	}
	if updated.Book == nil {
		updated.Book = li.Book
	}
	success("Saved")
	printItem(updated)
	return nil
}

func printItem(li listitems.ListItem) {
	fmt.Printf("%s\n", titleOf(li))
	fmt.Printf("  started:  %s\n", date(&li.StartDate))
	if li.Finished() {
		fmt.Printf("  finished: %s\n", date(li.FinishDate))
	}
	if li.Rating > 0 {
		fmt.Printf("  rating:   %s\n", stars(li.Rating))
	}
	if li.Notes != "" {
		fmt.Printf("  notes:    %s\n", li.Notes)
	}
}

func titleOf(li listitems.ListItem) string {
	if li.Book != nil {
		return fmt.Sprintf("%q by %s", li.Book.Title, li.Book.Author)
	}
	return li.BookID
}

// date formats a unix-millisecond timestamp; nil or zero prints as "-".
func date(ms *int64) string {
	if ms == nil || *ms == 0 {
		return "-"
	}
	return time.UnixMilli(*ms).Local().Format("2006-01-02")
}

func stars(n int) string {
	if n <= 0 {
		return "-"
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-min(n, 5))
}
