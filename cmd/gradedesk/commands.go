package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/events"
	"github.com/pavelanni/gradedesk/internal/export"
	"github.com/pavelanni/gradedesk/internal/grading"
	appI18n "github.com/pavelanni/gradedesk/internal/i18n"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/store"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull exams and submissions from the backend into the local snapshot",
		RunE:  runSync,
	}
	commonFlags(cmd)
	sourceFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Load exam snapshot JSON files into the local snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	commonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the results report of one exam",
		RunE:  runExport,
	}
	commonFlags(cmd)
	sourceFlags(cmd)
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam to export (required)")
	f.StringP("format", "f", "csv", "Report format (csv, xlsx)")
	f.StringP("output", "o", "", "Output file path (empty = <exam>_results.<ext>, - for stdout)")
	f.String("s3-endpoint", "", "S3-compatible endpoint to upload the report to")
	f.String("s3-access-key", "", "S3 access key")
	f.String("s3-secret-key", "", "S3 secret key")
	f.String("s3-bucket", "gradedesk-reports", "S3 bucket")
	f.Bool("s3-use-ssl", true, "Use TLS for the S3 endpoint")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print class analytics of one exam",
		RunE:  runReport,
	}
	commonFlags(cmd)
	sourceFlags(cmd)
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam to analyze (required)")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func autogradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autograde",
		Short: "Auto-grade every submitted, ungraded submission of one exam",
		RunE:  runAutoGrade,
	}
	commonFlags(cmd)
	sourceFlags(cmd)
	oracleFlags(cmd)
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam to auto-grade (required)")
	f.Float64("rps", 2, "Oracle calls per second (0 = unlimited)")
	f.Int("concurrency", 4, "Parallel oracle calls")
	f.Bool("save", false, "Save submissions that end up fully scored")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client, err := backendClient(ctx, v, nil)
	if err != nil {
		return err
	}
	exams, err := client.ListExams(ctx)
	if err != nil {
		return fmt.Errorf("list exams: %w", err)
	}
	for _, e := range exams {
		es, err := client.GetSubmissions(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("fetch exam %d: %w", e.ID, err)
		}
		if err := db.ImportSnapshot(ctx, es); err != nil {
			return fmt.Errorf("store exam %d: %w", e.ID, err)
		}
		slog.Info("synced exam", "exam_id", e.ID, "name", e.Name, "submissions", len(es.Submissions))
	}
	if err := db.SetLastSync(ctx, time.Now()); err != nil {
		return fmt.Errorf("record sync time: %w", err)
	}
	slog.Info("sync complete", "exams", len(exams))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importFiles(cmd.Context(), db, args)
}

// importFiles loads snapshot files, skipping any whose content was
// imported before.
func importFiles(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		seen, err := db.IsImported(ctx, hash)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if seen {
			slog.Info("snapshot file unchanged, skipping", "path", path)
			continue
		}

		es, err := parseSnapshot(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := db.ImportSnapshot(ctx, es); err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if err := db.MarkImported(ctx, hash, path); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported snapshot", "path", path, "exam_id", es.Exam.ID, "submissions", len(es.Submissions))
	}
	return nil
}

// parseSnapshot decodes an exam snapshot, fills in missing question keys
// and re-derives the graded flags from the answers.
func parseSnapshot(data []byte) (*model.ExamSubmissions, error) {
	var es model.ExamSubmissions
	if err := json.Unmarshal(data, &es); err != nil {
		return nil, err
	}
	if es.Exam.ID <= 0 {
		return nil, fmt.Errorf("exam id is missing")
	}
	es.Exam.AssignKeys()
	for i := range es.Submissions {
		sub := &es.Submissions[i]
		keys := es.Exam.KeyMatcher()
		for j, a := range sub.Answers {
			if a.Key == "" {
				sub.Answers[j].Key = keys.Key(a.QuestionID, a.QuestionText)
			}
		}
		if sub.Normalize() {
			slog.Warn("graded flag disagrees with answers, corrected",
				"exam_id", es.Exam.ID, "student_id", sub.StudentID, "is_graded", sub.IsGraded)
		}
	}
	return &es, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// loadSubmissions opens the configured source and fetches one exam.
func loadSubmissions(ctx context.Context, v *viper.Viper, db *store.Store) (*model.ExamSubmissions, error) {
	src, err := openSource(ctx, v, db, nil)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	es, err := src.repo.GetSubmissions(ctx, v.GetInt64("exam-id"))
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	return es, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	format, err := export.ParseFormat(v.GetString("format"))
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	es, err := loadSubmissions(ctx, v, db)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	name, err := export.Write(&buf, format, es)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	outPath := v.GetString("output")
	if outPath == "" {
		outPath = name
	}
	if outPath == "-" {
		if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	} else {
		if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		slog.Info("report written", "path", outPath, "format", format)
	}

	if endpoint := v.GetString("s3-endpoint"); endpoint != "" {
		up, err := export.NewMinioUploader(export.StorageConfig{
			Endpoint:  endpoint,
			AccessKey: v.GetString("s3-access-key"),
			SecretKey: v.GetString("s3-secret-key"),
			Bucket:    v.GetString("s3-bucket"),
			UseSSL:    v.GetBool("s3-use-ssl"),
		})
		if err != nil {
			return fmt.Errorf("create uploader: %w", err)
		}
		if err := uploadReport(ctx, up, name, format, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func uploadReport(ctx context.Context, up export.Uploader, name string, format export.Format, data []byte) error {
	url, err := up.Upload(ctx, name, bytes.NewReader(data), int64(len(data)), format.ContentType())
	if err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	slog.Info("report uploaded", "url", url)
	return nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(lang))

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	es, err := loadSubmissions(ctx, v, db)
	if err != nil {
		return err
	}
	rep, err := analytics.Compute(es.Exam, es.Submissions)
	if errors.Is(err, analytics.ErrNoGradedSubmissions) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), appI18n.T(ctx, "NoGraded"))
		return nil
	}
	if err != nil {
		return err
	}
	return export.RenderReport(ctx, cmd.OutOrStdout(), rep)
}

func runAutoGrade(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	src, err := openSource(ctx, v, db, nil)
	if err != nil {
		return err
	}
	defer src.Close()

	oracle, err := newOracle(ctx, v, src)
	if err != nil {
		return err
	}
	if oracle == nil {
		return fmt.Errorf("auto-grading needs an oracle: set --backend-url or --oracle=llm")
	}

	bus, err := events.New(slog.Default(), v.GetStringSlice("kafka-brokers"))
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer bus.Close()

	// Record commits synchronously; the process exits right after the batch.
	record := grading.WithCommitHook(func(ctx context.Context, c grading.Committed) {
		if _, err := db.RecordCommit(ctx, events.ToGradeCommit(c)); err != nil {
			slog.Error("recording grade commit failed", "student_id", c.Submission.StudentID, "error", err)
		}
	})
	cfg := model.Config{CapOverMax: v.GetBool("cap-over-max"), PromptVariant: v.GetString("prompt-variant")}
	svc := newService(src, oracle, cfg, nil, bus, record)

	items, err := svc.BatchAutoGrade(ctx, v.GetInt64("exam-id"), grading.BatchOptions{
		Concurrency: v.GetInt("concurrency"),
		Limiter:     newLimiter(v.GetFloat64("rps")),
		Save:        v.GetBool("save"),
	})
	printBatch(cmd.OutOrStdout(), items)
	return err
}

func printBatch(w io.Writer, items []grading.BatchItem) {
	table := tablewriter.NewWriter(w)
	table.Header("Student", "Applied", "Missing", "Saved", "Error")
	failed := 0
	for _, it := range items {
		errText := ""
		if it.Err != nil {
			errText = it.Err.Error()
			failed++
		}
		_ = table.Append(it.StudentName, yesNo(it.Applied), fmt.Sprint(it.Missing), yesNo(it.Saved), errText)
	}
	table.Footer("", "", "", "Failed", fmt.Sprint(failed))
	_ = table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
