package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/review"
	"github.com/spigell/jobpipe/internal/utils"
)

const (
	PromptApprove    = "Approve"
	PromptReject     = "Reject"
	PromptDefer      = "Defer"
	PromptShowDrafts = "Show drafts"
	PromptSkip       = "Skip"
	PromptStop       = "Stop reviewing"
	PromptYes        = "Yes"
	PromptNo         = "No"

	draftPreviewLength = 600
)

var errStop = errors.New("review stopped")

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Walk a review batch and approve, reject or defer each posting",
	Long: "Walk a review batch and approve, reject or defer each posting. Without --batch the oldest " +
		"open batch is used, or a new one is opened over the postings waiting for review.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		batchID, _ := cmd.Flags().GetString("batch")
		reviewer, _ := cmd.Flags().GetString("reviewer")
		keepOpen, _ := cmd.Flags().GetBool("keep-open")
		return reviewBatch(cmd.Context(), cmd.OutOrStdout(), batchID, reviewer, keepOpen)
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <batch-id> <fingerprint> approve|reject|defer",
	Short: "Record one decision without the interactive prompt",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := domain.ParseDecisionKind(args[2])
		if err != nil {
			return err
		}
		reviewer, _ := cmd.Flags().GetString("reviewer")
		note, _ := cmd.Flags().GetString("note")
		revision, _ := cmd.Flags().GetInt64("revision")

		e := setup(cmd.Context())
		defer e.Close()

		d, err := e.reviewQueue().Decide(cmd.Context(), review.DecideRequest{
			BatchID:     args[0],
			Fingerprint: args[1],
			Kind:        kind,
			Note:        note,
			DecidedBy:   e.reviewer(reviewer),
			Revision:    revision,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s by %s\n", d.Kind, d.Fingerprint, d.DecidedBy)
		return nil
	},
}

var editDraftsCmd = &cobra.Command{
	Use:   "edit <fingerprint>",
	Short: "Change the drafts of a posting in an open batch",
	Long: "Replace the CV summary, cover letter or outreach message of a posting while its batch is open. " +
		"Only the texts passed as flags change; an empty value clears a text.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, _ := cmd.Flags().GetString("reviewer")
		edit := review.DraftEdit{Fingerprint: args[0]}
		for flag, field := range map[string]**string{
			"cv-summary":   &edit.CVSummary,
			"cover-letter": &edit.CoverLetter,
			"outreach":     &edit.Outreach,
		} {
			if cmd.Flags().Changed(flag) {
				value, _ := cmd.Flags().GetString(flag)
				*field = &value
			}
		}

		e := setup(cmd.Context())
		defer e.Close()

		edit.EditedBy = e.reviewer(reviewer)
		d, err := e.reviewQueue().EditDrafts(cmd.Context(), edit)
		if err != nil {
			return err
		}
		printDrafts(cmd.OutOrStdout(), d, true)
		return nil
	},
}

var closeBatchCmd = &cobra.Command{
	Use:   "close <batch-id>",
	Short: "Close a review batch; undecided postings go to the next batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup(cmd.Context())
		defer e.Close()

		batch, err := e.reviewQueue().CloseBatch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "batch %s closed\n", batch.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(decideCmd, editDraftsCmd, closeBatchCmd)

	reviewCmd.Flags().String("batch", "", "batch id to review")
	reviewCmd.Flags().Bool("keep-open", false, "do not offer to close the batch at the end")
	reviewCmd.PersistentFlags().String("reviewer", "", "name recorded on decisions (default is review.reviewer)")

	decideCmd.Flags().String("note", "", "free text kept with the decision")
	editDraftsCmd.Flags().String("cv-summary", "", "new CV summary")
	editDraftsCmd.Flags().String("cover-letter", "", "new cover letter")
	editDraftsCmd.Flags().String("outreach", "", "new outreach message")

	decideCmd.Flags().Int64("revision", 0, "posting revision the decision overrides; 0 only records a first decision")
}

func reviewBatch(ctx context.Context, out io.Writer, batchID, reviewerFlag string, keepOpen bool) error {
	e := setup(ctx)
	defer e.Close()

	reviewer := e.reviewer(reviewerFlag)
	if reviewer == "" {
		return fmt.Errorf("%w: set review.reviewer or pass --reviewer", domain.ErrValidation)
	}

	queue := e.reviewQueue()
	batch, err := pickBatch(ctx, queue, batchID, e.cfg.Review.BatchSize)
	if err != nil {
		return err
	}

	items, err := queue.Items(ctx, batch.ID)
	if err != nil {
		return err
	}
	e.logger.Info("reviewing batch", zap.String(logger.FieldBatch, batch.ID), zap.Int("postings", len(items)))

	decided := 0
	for i, item := range items {
		if item.Status != domain.StatusPendingReview {
			continue
		}

		printPosting(out, i+1, len(items), item)
		kind, note, err := askDecision(ctx, e, out, item)
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return err
		}
		if kind == "" {
			continue
		}

		_, err = queue.Decide(ctx, review.DecideRequest{
			BatchID:     batch.ID,
			Fingerprint: item.Fingerprint,
			Kind:        kind,
			Note:        note,
			DecidedBy:   reviewer,
			Revision:    item.Revision,
		})
		if review.IsConflict(err) {
			e.logger.Warn("posting changed while reviewing, skipping",
				logger.PostingFields(item.Fingerprint, item.Company, item.Title)...)
			continue
		}
		if err != nil {
			return err
		}
		decided++
	}

	e.logger.Info("review finished", zap.String(logger.FieldBatch, batch.ID), zap.Int("decided", decided))
	if keepOpen {
		return nil
	}

	confirm := promptui.Select{
		Label: fmt.Sprintf("Close batch %s? Approvals become final", batch.ID),
		Items: []string{PromptNo, PromptYes},
	}
	_, answer, err := confirm.Run()
	if err != nil {
		return err
	}
	if answer != PromptYes {
		return nil
	}
	if _, err := queue.CloseBatch(ctx, batch.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "batch %s closed; run `%s execute --batch %s --action apply` to act on approvals\n", batch.ID, app, batch.ID)
	return nil
}

// pickBatch returns the requested batch, else the oldest open one, else a
// new batch over the postings waiting for review.
func pickBatch(ctx context.Context, queue *review.Queue, batchID string, size int) (domain.ReviewBatch, error) {
	if batchID = strings.TrimSpace(batchID); batchID != "" {
		batch, err := queue.Batch(ctx, batchID)
		if err != nil {
			return domain.ReviewBatch{}, err
		}
		if batch.Status != domain.BatchOpen {
			return domain.ReviewBatch{}, fmt.Errorf("%w: %s", domain.ErrBatchClosed, batchID)
		}
		return batch, nil
	}

	open, err := queue.OpenBatches(ctx)
	if err != nil {
		return domain.ReviewBatch{}, err
	}
	if len(open) > 0 {
		// listed newest first
		return open[len(open)-1], nil
	}
	return queue.NextBatch(ctx, size)
}

func askDecision(ctx context.Context, e *env, out io.Writer, item domain.ScoredPosting) (domain.DecisionKind, string, error) {
	for {
		prompt := promptui.Select{
			Label: "Decision",
			Items: []string{PromptApprove, PromptReject, PromptDefer, PromptShowDrafts, PromptSkip, PromptStop},
		}
		_, choice, err := prompt.Run()
		if err != nil {
			return "", "", err
		}

		switch choice {
		case PromptApprove:
			return domain.DecisionApprove, "", nil
		case PromptReject, PromptDefer:
			note, err := (&promptui.Prompt{Label: "Note (optional)"}).Run()
			if err != nil {
				return "", "", err
			}
			if choice == PromptReject {
				return domain.DecisionReject, note, nil
			}
			return domain.DecisionDefer, note, nil
		case PromptShowDrafts:
			d, ok, err := e.store.GetDrafts(ctx, item.Fingerprint)
			if err != nil {
				return "", "", err
			}
			printDrafts(out, d, ok)
		case PromptSkip:
			return "", "", nil
		case PromptStop:
			return "", "", errStop
		}
	}
}

func printPosting(out io.Writer, n, total int, item domain.ScoredPosting) {
	fmt.Fprintf(out, "\n[%d/%d] %s / %s / %s\n", n, total, item.Title, item.Company, item.Geography)
	fmt.Fprintf(out, "score %.2f  fingerprint %s\n", item.Score, item.Fingerprint)
	if item.ApplyURL != "" {
		fmt.Fprintf(out, "%s\n", item.ApplyURL)
	}
	for _, line := range item.Rationale {
		fmt.Fprintf(out, "  - %s\n", line)
	}
}

func printDrafts(out io.Writer, d domain.Drafts, ok bool) {
	switch {
	case !ok:
		fmt.Fprintln(out, "no drafts for this posting")
	case d.Error != "":
		fmt.Fprintf(out, "drafts failed (%s): %s\n", d.Generator, d.Error)
	default:
		origin := d.Generator
		if d.EditedBy != "" {
			origin += ", edited by " + d.EditedBy
		}
		fmt.Fprintf(out, "--- CV summary (%s)\n%s\n", origin, utils.TruncateForLog(d.CVSummary, draftPreviewLength))
		fmt.Fprintf(out, "--- Cover letter\n%s\n", utils.TruncateForLog(d.CoverLetter, draftPreviewLength))
		fmt.Fprintf(out, "--- Outreach\n%s\n", utils.TruncateForLog(d.Outreach, draftPreviewLength))
	}
}
