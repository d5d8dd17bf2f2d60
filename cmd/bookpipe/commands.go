package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

func (a *app) processCommand() *cobra.Command {
	var (
		bookID int64
		file   string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process an uploaded book file and print the result",
		Long: `Process extracts metadata and chapters from an ePub or HTML file,
persists them for the given catalog book and prints the processed book as JSON.
The format is chosen from --name, or from the file name when --name is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				name = filepath.Base(file)
			}
			book, err := a.processor.ProcessUploadedBook(cmd.Context(), bookID, file, name)
			if err != nil {
				return err
			}
			return printJSON(cmd, book)
		},
	}
	cmd.Flags().Int64Var(&bookID, "book-id", 0, "catalog book id")
	cmd.Flags().StringVar(&file, "file", "", "path of the uploaded file")
	cmd.Flags().StringVar(&name, "name", "", "original file name")
	_ = cmd.MarkFlagRequired("book-id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) showCommand() *cobra.Command {
	var bookID int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a processed book as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			book, err := a.processor.ProcessedBook(cmd.Context(), bookID)
			if err != nil {
				return err
			}
			if book == nil {
				return fmt.Errorf("book %d has not been processed", bookID)
			}
			return printJSON(cmd, book)
		},
	}
	cmd.Flags().Int64Var(&bookID, "book-id", 0, "catalog book id")
	_ = cmd.MarkFlagRequired("book-id")
	return cmd
}

func (a *app) catalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage catalog rows",
	}

	var title, author, fileURL string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a catalog book and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.store.CreateBook(cmd.Context(), title, author, fileURL)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"id": id})
		},
	}
	add.Flags().StringVar(&title, "title", "", "book title")
	add.Flags().StringVar(&author, "author", "", "author name")
	add.Flags().StringVar(&fileURL, "file-url", "", "ebook file URL (/api/... or a legacy path)")
	_ = add.MarkFlagRequired("title")

	cmd.AddCommand(add)
	return cmd
}

func (a *app) queueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the background processing queue",
	}

	var force bool
	add := &cobra.Command{
		Use:   "add <book_id>...",
		Short: "Queue books for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			result := make(map[string]bool, len(ids))
			for i, id := range ids {
				queued, err := a.worker.Enqueue(cmd.Context(), id, force)
				if err != nil {
					return err
				}
				result[args[i]] = queued
			}
			return printJSON(cmd, result)
		},
	}
	add.Flags().BoolVar(&force, "force", false, "re-queue books that are already completed")

	var once bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Process queued books until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !once {
				return a.worker.Run(cmd.Context())
			}
			processed, err := a.worker.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !processed {
				return errors.New("queue is empty")
			}
			return nil
		},
	}
	run.Flags().BoolVar(&once, "once", false, "process a single book and exit")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the number of books per processing status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := a.worker.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, counts)
		},
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Queue every failed book again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.worker.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"queued": n})
		},
	}

	cmd.AddCommand(add, run, status, retry)
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid book id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
