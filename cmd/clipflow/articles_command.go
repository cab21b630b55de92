package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"clipflow/internal/articles"
)

func newArticlesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Manage the article feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newArticlesAddCommand(ctx))
	return cmd
}

func newArticlesAddCommand(ctx *commandContext) *cobra.Command {
	var title string
	var sourceURL string
	var bodyFile string

	cmd := &cobra.Command{
		Use:   "add <family>",
		Short: "Add an article (body from --body-file or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureArticles()
			if err != nil {
				return err
			}

			var body []byte
			if bodyFile != "" {
				body, err = os.ReadFile(bodyFile)
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read article body: %w", err)
			}
			if strings.TrimSpace(string(body)) == "" {
				return fmt.Errorf("article body is empty")
			}

			article, err := store.Add(cmd.Context(), articles.Article{
				Family:    args[0],
				Title:     title,
				Body:      string(body),
				SourceURL: sourceURL,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "article %s added\n", article.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Article title")
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Original article URL")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read the body from this file instead of stdin")
	return cmd
}
