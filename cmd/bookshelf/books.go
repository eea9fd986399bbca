package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querycache/books"
)

func searchCmd(appFn func() *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the catalogue",
		Long:  "Search books by title or author. An empty query lists the whole catalogue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFn()
			_, req, err := a.signedIn(ctx)
			if err != nil {
				return err
			}
			bs, err := a.books(req)
			if err != nil {
				return err
			}
			co, err := a.listItems(req)
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			if refresh {
				if err := a.searchCache.Invalidate(ctx, books.SearchKey(query)); err != nil {
					warn("could not invalidate cached search: %v", err)
				}
			}
			found, err := bs.Search(ctx, query)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("No books found.")
				return nil
			}

			onList := map[string]bool{}
			if items, err := co.List(ctx); err == nil {
				for _, li := range items {
					onList[li.BookID] = true
				}
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tLIST")
			for _, b := range found {
				mark := ""
				if onList[b.ID] {
					mark = "✓"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, mark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore a cached result for this query")
	return cmd
}

func bookCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "book <book-id>",
		Short: "Show one book",
		Args:  requireArgs(1, "book <book-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFn()
			_, req, err := a.signedIn(ctx)
			if err != nil {
				return err
			}
			bs, err := a.books(req)
			if err != nil {
				return err
			}
			co, err := a.listItems(req)
			if err != nil {
				return err
			}

			b, err := bs.Book(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\n  by %s\n", b.Title, b.Author)
			if b.Publisher != "" {
				fmt.Printf("  %s, %d pages\n", b.Publisher, b.PageCount)
			}
			if b.Synopsis != "" {
				fmt.Printf("\n%s\n", b.Synopsis)
			}

			li, ok, err := co.ByBook(ctx, b.ID)
			switch {
			case err != nil:
				warn("could not load your list: %v", err)
			case !ok:
				fmt.Println("\nNot on your list.")
			default:
				fmt.Println()
				printItem(li)
			}
			return nil
		},
	}
}
