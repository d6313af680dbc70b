package tagger_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/mmcpherson/cadenza/internal/fault"
	"github.com/mmcpherson/cadenza/internal/tagger"
	"github.com/mmcpherson/cadenza/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinimumLevel(logger.FATAL)
}

// writeTestMP3 writes a synthetic but decodable MP3: a run of MPEG1
// Layer III frames (128kbps, 44.1kHz) whose leading bytes carry a
// valid frame sync.
func writeTestMP3(t *testing.T, dir string, name string) string {
	t.Helper()

	const frameSize = 417
	frame := make([]byte, frameSize)
	frame[0] = 0xFF
	frame[1] = 0xFB
	frame[2] = 0x90
	frame[3] = 0x00

	payload := make([]byte, 0, frameSize*4)
	for i := 0; i < 4; i++ {
		payload = append(payload, frame...)
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, payload, 0o644))
	return path
}

// addComment stamps a pre-existing unrelated comment tag onto the file
// so preservation can be asserted.
func addComment(t *testing.T, path string, text string) {
	t.Helper()

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer tag.Close()

	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding: id3v2.EncodingUTF8,
		Language: "eng",
		Text:     text,
	})
	require.NoError(t, tag.Save())
}

func backupsFor(t *testing.T, path string) []string {
	t.Helper()

	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	return matches
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()

	valid := writeTestMP3(t, dir, "valid.mp3")
	assert.True(t, service.Validate(valid))

	assert.False(t, service.Validate(filepath.Join(dir, "missing.mp3")))

	wrongExt := filepath.Join(dir, "song.wav")
	require.NoError(t, os.WriteFile(wrongExt, []byte{0xFF, 0xFB, 0x90, 0x00}, 0o644))
	assert.False(t, service.Validate(wrongExt))

	tiny := filepath.Join(dir, "tiny.mp3")
	require.NoError(t, os.WriteFile(tiny, []byte{0xFF, 0xFB}, 0o644))
	assert.False(t, service.Validate(tiny))

	garbage := filepath.Join(dir, "garbage.mp3")
	require.NoError(t, os.WriteFile(garbage, make([]byte, 2048), 0o644))
	assert.False(t, service.Validate(garbage))
}

func TestApplyFieldsRoundTripPreservesUnrelatedTags(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()

	path := writeTestMP3(t, dir, "track.mp3")
	addComment(t, path, "hello")

	fields := tagger.Fields{Artist: "A", Title: "T", Album: "AL", TrackNumber: 3}
	require.NoError(t, service.ApplyFields(path, fields))

	assert.True(t, service.Validate(path))

	read, err := service.ReadFields(path)
	require.NoError(t, err)
	assert.Equal(t, "A", read[tagger.FrameArtist])
	assert.Equal(t, "T", read[tagger.FrameTitle])
	assert.Equal(t, "AL", read[tagger.FrameAlbum])
	assert.Equal(t, "3", read[tagger.FrameTrack])
	assert.Equal(t, "hello", read["COMM"])

	assert.Empty(t, backupsFor(t, path), "backup should be removed on success")
}

func TestApplyFieldsRejectsInvalidFields(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()
	path := writeTestMP3(t, dir, "track.mp3")

	err := service.ApplyFields(path, tagger.Fields{Artist: "A", Title: "T", Album: "AL", TrackNumber: 0})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InputValidation))
	assert.Empty(t, backupsFor(t, path), "no backup should exist for a rejected request")
}

func TestApplyFieldsRollsBackOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()
	path := writeTestMP3(t, dir, "track.mp3")

	original, err := os.ReadFile(path)
	require.NoError(t, err)

	// Simulate a partial write: clobber the target, then fail.
	service.SetPersistHook(func(tag *id3v2.Tag) error {
		require.NoError(t, os.WriteFile(path, []byte("partial junk"), 0o644))
		return errors.New("simulated write failure")
	})

	applyErr := service.ApplyFields(path, tagger.Fields{Artist: "A", Title: "T", Album: "AL", TrackNumber: 1})
	require.Error(t, applyErr)
	assert.True(t, fault.IsKind(applyErr, fault.MutationFailed))

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, restored, "target bytes must equal the pre-call bytes after rollback")
	assert.Empty(t, backupsFor(t, path), "backup is consumed by the restore")
}

func TestApplyFieldsFailsBeforeBackupWhenDiskFull(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()
	path := writeTestMP3(t, dir, "track.mp3")

	service.SetFreeSpaceHook(func(string) (uint64, error) { return 0, nil })

	err := service.ApplyFields(path, tagger.Fields{Artist: "A", Title: "T", Album: "AL", TrackNumber: 1})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.BackupFailed))
	assert.Empty(t, backupsFor(t, path), "free space is a precondition; no backup may be created")
}

func TestBackupOriginal(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()
	path := writeTestMP3(t, dir, "track.mp3")

	backupPath, err := service.BackupOriginal(path)
	require.NoError(t, err)
	assert.Contains(t, backupPath, path+".backup.")

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	backup, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, original, backup)
}

func TestReadFieldsRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()

	garbage := filepath.Join(dir, "garbage.mp3")
	require.NoError(t, os.WriteFile(garbage, make([]byte, 2048), 0o644))

	_, err := service.ReadFields(garbage)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.TagValidationFailed))
}

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	service := tagger.New()
	path := writeTestMP3(t, dir, "track.mp3")

	require.NoError(t, service.ApplyFields(path, tagger.Fields{Artist: "A", Title: "T", Album: "AL", TrackNumber: 7}))

	summary := service.Summarize(path)
	assert.Equal(t, "A", summary.Artist)
	assert.Equal(t, "7", summary.TrackNumber)
	assert.NotEmpty(t, summary.FileSize)
	assert.NotEmpty(t, summary.Duration)
}
