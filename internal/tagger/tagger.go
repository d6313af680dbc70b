// Package tagger rewrites the ID3 metadata embedded in a downloaded
// MP3 under a backup/verify/rollback discipline: no byte of the
// original file is put at risk without a size-verified backup sitting
// next to it first.
package tagger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-playground/validator/v10"
	"github.com/mmcpherson/cadenza/internal/fault"
	"github.com/mmcpherson/cadenza/internal/media"
	"github.com/mmcpherson/cadenza/pkg/logger"
	mp3lib "github.com/tcolgate/mp3"
)

var log = logger.Get("Tagger")

// MinimumFileSize is the smallest byte size a plausible MP3 can have;
// anything under this fails validation outright.
const MinimumFileSize = 1024

// The four frame identifiers this engine overwrites. Every other
// frame present in the file is preserved verbatim.
const (
	FrameArtist = "TPE1"
	FrameTitle  = "TIT2"
	FrameAlbum  = "TALB"
	FrameTrack  = "TRCK"
)

type (
	// Fields is the caller-supplied metadata applied to a file. All
	// four fields are mandatory and the track number must be positive.
	Fields struct {
		Artist      string `validate:"required"`
		Title       string `validate:"required"`
		Album       string `validate:"required"`
		TrackNumber int    `validate:"required,gt=0"`
	}

	// Service performs synchronous, blocking tag mutations. It is not
	// internally concurrent; callers must not run two mutations
	// against the same path at once.
	Service struct {
		validate *validator.Validate

		// Seams for failure injection in tests.
		freeSpace func(dir string) (uint64, error)
		persist   func(tag *id3v2.Tag) error
	}
)

func New() *Service {
	return &Service{
		validate:  validator.New(),
		freeSpace: diskFree,
		persist:   func(tag *id3v2.Tag) error { return tag.Save() },
	}
}

// Validate reports whether the path points at a usable MP3: it must
// exist, carry the expected extension, be at least MinimumFileSize
// bytes, present a known MP3 signature in its leading bytes, parse as
// an ID3 container, and decode to a positive audio duration. Every
// other operation in this package is gated on this predicate.
func (service *Service) Validate(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return false
	}

	if info.Size() < MinimumFileSize {
		return false
	}

	header, err := media.ReadHeader(path)
	if err != nil || !media.SniffMP3(header) {
		return false
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return false
	}
	tag.Close()

	return audioDuration(path) > 0
}

// ReadFields returns every textual tag entry in the file as an opaque
// frame-ID to value mapping, not just the four fields this engine
// writes. Non-textual frames (artwork, lyrics) are omitted from the
// mapping but are still preserved byte-for-byte by ApplyFields.
func (service *Service) ReadFields(path string) (map[string]string, error) {
	if !service.Validate(path) {
		return nil, fault.New(fault.TagValidationFailed, fault.StageMutating,
			"%s is not a valid MP3 file", path)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fault.Wrap(fault.TagValidationFailed, fault.StageMutating,
			fmt.Errorf("unable to parse tags of %s: %w", path, err))
	}
	defer tag.Close()

	fields := make(map[string]string)
	for id, frames := range tag.AllFrames() {
		if len(frames) == 0 {
			continue
		}

		switch frame := frames[0].(type) {
		case id3v2.TextFrame:
			fields[id] = frame.Text
		case id3v2.CommentFrame:
			fields[id] = frame.Text
		case id3v2.UserDefinedTextFrame:
			fields[id] = frame.Value
		}
	}

	return fields, nil
}

// ApplyFields overwrites the artist, title, album and track frames of
// the file with the values provided, preserving all other frames. The
// mandatory sequence is: validate file, validate fields, confirm free
// disk space, create and verify a backup, mutate, re-validate, then
// delete the backup. Any failure after the backup exists restores the
// original file from it; a failed restore is escalated as a distinct
// critical error since the file's integrity is then uncertain.
func (service *Service) ApplyFields(path string, fields Fields) error {
	mutation := &attempt{path: path}

	if !service.Validate(path) {
		return fault.New(fault.TagValidationFailed, fault.StageMutating,
			"%s is not a valid MP3 file", path)
	}

	if err := service.validate.Struct(fields); err != nil {
		return fault.Wrap(fault.InputValidation, fault.StageMutating,
			fmt.Errorf("invalid metadata fields: %w", err))
	}
	mutation.state = validated

	info, err := os.Stat(path)
	if err != nil {
		return fault.Wrap(fault.FileSystemAccess, fault.StageMutating, err)
	}
	mutation.originalSize = info.Size()

	// Free space is a precondition, checked before a single backup
	// byte lands on disk.
	if err := service.ensureFreeSpace(path, mutation.originalSize); err != nil {
		return err
	}

	backupPath, err := service.BackupOriginal(path)
	if err != nil {
		return err
	}
	mutation.backupPath = backupPath
	mutation.state = backedUp

	existing, err := service.ReadFields(path)
	if err != nil {
		return service.rollback(mutation, err)
	}

	if err := service.writeFields(path, fields); err != nil {
		return service.rollback(mutation, fault.Wrap(fault.MutationFailed, fault.StageMutating,
			fmt.Errorf("failed to write tags to %s: %w", path, err)))
	}
	mutation.state = written

	if !service.Validate(path) {
		return service.rollback(mutation, fault.New(fault.MutationFailed, fault.StageMutating,
			"%s failed validation after mutation; treating as corruption", path))
	}
	mutation.state = verified

	if err := os.Remove(mutation.backupPath); err != nil {
		log.Emit(logger.WARNING, "Could not remove backup %s: %s\n", mutation.backupPath, err.Error())
	}

	log.Emit(logger.SUCCESS, "Applied metadata to %s (%d pre-existing entries preserved)\n", path, len(existing))
	return nil
}

// BackupOriginal creates a uniquely-named, size-verified copy of the
// file alongside it. The timestamp suffix avoids collisions across
// retries. Exposed for callers needing a backup without a mutation.
func (service *Service) BackupOriginal(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fault.Wrap(fault.BackupFailed, fault.StageMutating,
			fmt.Errorf("cannot back up %s: %w", path, err))
	}

	if err := service.ensureFreeSpace(path, info.Size()); err != nil {
		return "", err
	}

	backupPath := fmt.Sprintf("%s.backup.%d", path, time.Now().Unix())
	if err := copyFile(path, backupPath, info.Mode()); err != nil {
		os.Remove(backupPath)
		return "", fault.Wrap(fault.BackupFailed, fault.StageMutating,
			fmt.Errorf("failed to create backup of %s: %w", path, err))
	}

	backupInfo, err := os.Stat(backupPath)
	if err != nil || backupInfo.Size() != info.Size() {
		os.Remove(backupPath)
		return "", fault.New(fault.BackupFailed, fault.StageMutating,
			"backup verification failed for %s", path)
	}

	return backupPath, nil
}

func (service *Service) ensureFreeSpace(path string, size int64) error {
	free, err := service.freeSpace(filepath.Dir(path))
	if err != nil {
		return fault.Wrap(fault.BackupFailed, fault.StageMutating,
			fmt.Errorf("unable to determine free space for %s: %w", path, err))
	}

	if free < uint64(size)*2 {
		return fault.New(fault.BackupFailed, fault.StageMutating,
			"insufficient disk space to safely mutate %s: need %d bytes, have %d", path, size*2, free)
	}

	return nil
}

func (service *Service) writeFields(path string, fields Fields) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetArtist(fields.Artist)
	tag.SetTitle(fields.Title)
	tag.SetAlbum(fields.Album)
	tag.AddTextFrame(FrameTrack, tag.DefaultEncoding(), strconv.Itoa(fields.TrackNumber))

	return service.persist(tag)
}

// rollback restores the original file from its backup after a failed
// mutation. The backup is moved over the target path; if that move
// itself fails the backup is left in place for manual recovery and
// the failure is escalated as RestoreFailed.
func (service *Service) rollback(mutation *attempt, cause error) error {
	if err := os.Rename(mutation.backupPath, mutation.path); err != nil {
		mutation.state = restoreFailed
		log.Emit(logger.FATAL, "Restore of %s from backup %s FAILED; backup retained for manual recovery\n",
			mutation.path, mutation.backupPath)
		return fault.Wrap(fault.RestoreFailed, fault.StageMutating,
			fmt.Errorf("failed to restore %s from backup %s: %v (mutation failure: %w)",
				mutation.path, mutation.backupPath, err, cause))
	}

	mutation.state = rolledBack
	log.Emit(logger.REMOVE, "Mutation of %s rolled back from backup\n", mutation.path)
	return cause
}

func copyFile(src string, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// audioDuration walks the MPEG frames of the file and sums their
// durations. Returns zero when no decodable frame exists.
func audioDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	decoder := mp3lib.NewDecoder(f)
	var (
		frame   mp3lib.Frame
		skipped int
		total   time.Duration
	)
	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			break
		}

		total += frame.Duration()
	}

	return total
}
