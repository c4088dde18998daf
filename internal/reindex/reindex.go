package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pixland/pixops/internal/faceservice"
	"github.com/pixland/pixops/internal/logger"
	"github.com/pixland/pixops/internal/types"
	"github.com/pixland/pixops/internal/utils"
)

// urlTail is how much of an image URL the per-record line shows.
const urlTail = 50

// Store is the part of the image database the job reads and writes.
type Store interface {
	CountImages(ctx context.Context) (int64, error)
	EachImage(ctx context.Context, fn func(types.Image) error) error
	SetDetectedFaces(ctx context.Context, img types.Image, faces []types.DetectedFace, status string) error
}

// FaceService turns image bytes into an embedding.
type FaceService interface {
	Extract(ctx context.Context, image []byte) (*faceservice.Extraction, error)
}

// Progress is advanced once per record. *progressbar.ProgressBar satisfies it.
type Progress interface {
	Add(num int) error
}

// DownloadError reports a non-200 answer from the image host.
type DownloadError struct {
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download: HTTP %d", e.StatusCode)
}

// Deps are the collaborators a Job talks to.
type Deps struct {
	Store Store
	Faces FaceService
	// HTTP downloads images. Defaults to a plain client; the per-request timeout comes from Options.
	HTTP   *http.Client
	Logger *slog.Logger
}

// Options tune a run.
type Options struct {
	DownloadTimeout time.Duration
	// RecordDelay is slept after every record that was not skipped.
	RecordDelay time.Duration
	// Dim is the descriptor length that counts as already indexed.
	Dim      int
	Out      io.Writer
	Progress Progress
}

// Job re-computes face descriptors for every image in the store, one at a time.
type Job struct {
	store    Store
	faces    FaceService
	http     *http.Client
	log      *slog.Logger
	opts     Options
	progress Progress
}

func New(deps Deps, opts Options) *Job {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if opts.Dim <= 0 {
		opts.Dim = types.DescriptorDim
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 20 * time.Second
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Job{
		store:    deps.Store,
		faces:    deps.Faces,
		http:     deps.HTTP,
		log:      deps.Logger,
		opts:     opts,
		progress: opts.Progress,
	}
}

// Run walks every record in store order. Per-record failures are counted, not returned;
// the error is non-nil only when counting or streaming fails or ctx is cancelled.
// The summary covers the records visited so far in every case.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	total, err := j.store.CountImages(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to count images: %w", err)
	}
	fmt.Fprintf(j.opts.Out, "\n[INFO] Found %d images in DB\n", total)
	fmt.Fprintf(j.opts.Out, "       Starting re-index through ArcFace...\n\n")
	j.log.Info("Re-index started", "total", total, "dim", j.opts.Dim)

	i := 0
	err = j.store.EachImage(ctx, func(img types.Image) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		i++

		res := j.Process(ctx, img)
		if res.Outcome == Failed && ctx.Err() != nil {
			// Interrupted mid-record; the record was not modified.
			return ctx.Err()
		}
		sum.Add(res)
		j.report(i, total, img, res)
		if j.progress != nil {
			j.progress.Add(1)
		}

		if res.Outcome != Skipped {
			return sleep(ctx, j.opts.RecordDelay)
		}
		return nil
	})

	j.log.Info("Re-index finished",
		"success", sum.Success, "no_face", sum.NoFace, "skipped", sum.Skipped,
		"failed", sum.Failed, "timeouts", sum.Timeouts, "total", sum.Total)
	if err != nil {
		return sum, fmt.Errorf("re-index interrupted after %d records: %w", sum.Total, err)
	}
	return sum, nil
}

// Process handles a single record: skip, or download, extract and write back.
// The record is only modified on Success or NoFace.
func (j *Job) Process(ctx context.Context, img types.Image) Result {
	if img.DecodeErr != nil {
		return failed("decode", img.DecodeErr)
	}
	if img.URL == "" {
		return Result{Outcome: Skipped, Reason: "no url"}
	}
	if img.Indexed(j.opts.Dim) {
		return Result{Outcome: Skipped, Reason: fmt.Sprintf("already %dD ArcFace", j.opts.Dim)}
	}

	data, err := j.download(ctx, img.URL)
	if err != nil {
		return failed("download", err)
	}

	ext, err := j.faces.Extract(ctx, data)
	if errors.Is(err, faceservice.ErrNoFace) {
		if err := j.store.SetDetectedFaces(ctx, img, nil, types.StatusReady); err != nil {
			return failed("update", err)
		}
		return Result{Outcome: NoFace}
	}
	if err != nil {
		return failed("extract", err)
	}

	face := types.DetectedFace{
		Descriptor:    ext.Embedding,
		FaceRectangle: ext.FaceArea.Rectangle(),
		Indexed:       true,
	}
	if err := j.store.SetDetectedFaces(ctx, img, []types.DetectedFace{face}, types.StatusReady); err != nil {
		return failed("update", err)
	}
	return Result{Outcome: Success, Dimensions: len(ext.Embedding)}
}

func (j *Job) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, j.opts.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func failed(stage string, err error) Result {
	res := Result{
		Outcome: Failed,
		Timeout: faceservice.IsTimeout(err),
		Err:     fmt.Errorf("%s: %w", stage, err),
	}

	var de *DownloadError
	var se *faceservice.StatusError
	switch {
	case res.Timeout:
		res.Reason = "timeout during " + stage
	case errors.As(err, &de):
		res.Reason = fmt.Sprintf("download HTTP %d", de.StatusCode)
	case errors.As(err, &se):
		res.Reason = fmt.Sprintf("extract HTTP %d", se.Code)
	default:
		res.Reason = res.Err.Error()
	}
	return res
}

func (j *Job) report(i int, total int64, img types.Image, res Result) {
	prefix := fmt.Sprintf("  [%d/%d]", i, total)
	tail := utils.Tail(img.URL, urlTail)

	switch res.Outcome {
	case Skipped:
		fmt.Fprintf(j.opts.Out, "%s SKIP (%s) - %s\n", prefix, res.Reason, tail)
	case Success:
		fmt.Fprintf(j.opts.Out, "%s OK   %dD - %s\n", prefix, res.Dimensions, tail)
	case NoFace:
		fmt.Fprintf(j.opts.Out, "%s NO_FACE - %s\n", prefix, tail)
	case Failed:
		if res.Timeout {
			fmt.Fprintf(j.opts.Out, "%s TIMEOUT - %s\n", prefix, tail)
		} else {
			fmt.Fprintf(j.opts.Out, "%s FAIL %s - %s\n", prefix, res.Reason, tail)
		}
		j.log.Warn("Record failed", "id", img.ID, "timeout", res.Timeout, "error", res.Err)
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
