package media

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scribe/backend/internal/modules/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	mib = int64(1024 * 1024)
	gib = 1024 * mib
)

// zeroStream is a seekable stream of size zero bytes that never holds them in memory.
// When copied into an *os.File it extends the file sparsely.
type zeroStream struct {
	size   int64
	off    int64
	maxOff int64
}

func newZeroStream(size int64) *zeroStream {
	return &zeroStream{size: size}
}

func (z *zeroStream) Read(p []byte) (int, error) {
	if z.off >= z.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if remaining := z.size - z.off; n > remaining {
		n = remaining
	}
	clear(p[:n])
	z.off += n
	if z.off > z.maxOff {
		z.maxOff = z.off
	}
	return int(n), nil
}

func (z *zeroStream) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = z.off + offset
	case io.SeekEnd:
		next = z.size + offset
	}
	if next < 0 {
		return 0, errors.New("negative offset")
	}
	z.off = next
	return next, nil
}

func (z *zeroStream) WriteTo(w io.Writer) (int64, error) {
	remaining := z.size - z.off
	if remaining <= 0 {
		return 0, nil
	}
	f, ok := w.(*os.File)
	if !ok {
		return io.Copy(w, io.LimitReader(zeroReader{}, remaining))
	}
	cur, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if err := f.Truncate(cur + remaining); err != nil {
		return 0, err
	}
	if _, err := f.Seek(remaining, io.SeekCurrent); err != nil {
		return 0, err
	}
	z.off = z.size
	z.maxOff = z.size
	return remaining, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// fakeProber returns a fixed answer and records what it was asked
type fakeProber struct {
	mu       sync.Mutex
	duration float64
	err      error
	panics   bool
	calls    int
	paths    []string
	sizes    []int64
}

func (p *fakeProber) ProbeDuration(_ context.Context, path, _ string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.paths = append(p.paths, path)
	if info, err := os.Stat(path); err == nil {
		p.sizes = append(p.sizes, info.Size())
	}
	if p.panics {
		panic("probe blew up")
	}
	return p.duration, p.err
}

type outcomeRecorder struct {
	results []string
	probes  int
}

func (r *outcomeRecorder) RecordAdmission(tier, result string) {
	r.results = append(r.results, tier+":"+result)
}

func (r *outcomeRecorder) RecordProbe(string, time.Duration) {
	r.probes++
}

func newTestValidator(t *testing.T, prober Prober, opts ...ValidatorOption) (*Validator, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]ValidatorOption{WithTempDir(dir)}, opts...)
	return NewValidator(prober, zap.NewNop(), opts...), dir
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files left behind")
}

func assertReason(t *testing.T, err error, reason Reason) *ValidationError {
	t.Helper()
	ve, ok := AsValidationError(err)
	require.True(t, ok, "expected a ValidationError, got %v", err)
	assert.Equal(t, reason, ve.Reason)
	return ve
}

func TestValidateInvalidFileType(t *testing.T) {
	contentTypes := []string{
		"",
		"text/plain",
		"image/png",
		"application/octet-stream",
		"Audio/mpeg",
		"VIDEO/mp4",
		"audio",
		"audiox/mpeg",
		" audio/mpeg",
	}

	for _, tier := range []subscription.Tier{subscription.TierFree, subscription.TierPro} {
		for _, ct := range contentTypes {
			t.Run(string(tier)+"/"+ct, func(t *testing.T) {
				prober := &fakeProber{duration: 10}
				v, dir := newTestValidator(t, prober)

				err := v.Validate(context.Background(), newZeroStream(6*gib), ct, "x.mp3", tier)

				assertReason(t, err, ReasonInvalidFileType)
				assert.ErrorIs(t, err, ErrInvalidFileType)
				assert.Equal(t, 0, prober.calls)
				assertNoTempFiles(t, dir)
			})
		}
	}
}

func TestValidateFileTooLarge(t *testing.T) {
	tests := []struct {
		name  string
		tier  subscription.Tier
		size  int64
		label string
	}{
		{"free one byte over", subscription.TierFree, 500*mib + 1, "500 MB"},
		{"free far over", subscription.TierFree, 2 * gib, "500 MB"},
		{"pro one byte over", subscription.TierPro, 5*gib + 1, "5 GB"},
		{"unknown tier uses free limit", subscription.Tier("gold"), 600 * mib, "500 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{duration: 10}
			v, dir := newTestValidator(t, prober)
			body := newZeroStream(tt.size)

			err := v.Validate(context.Background(), body, "audio/mpeg", "song.mp3", tt.tier)

			ve := assertReason(t, err, ReasonFileTooLarge)
			assert.Contains(t, ve.Error(), tt.label)
			assert.ErrorIs(t, err, ErrFileTooLarge)
			assert.Equal(t, 0, prober.calls, "probe must not run once size fails")
			assertNoTempFiles(t, dir)

			limit := subscription.LimitsFor(tt.tier).MaxBytes
			assert.LessOrEqual(t, body.maxOff, limit+defaultChunkSize, "reading must stop once the limit is crossed")
		})
	}
}

func TestValidateFreeTierJustUnderLimits(t *testing.T) {
	prober := &fakeProber{duration: 119}
	v, dir := newTestValidator(t, prober)

	adm, err := v.Admit(context.Background(), newZeroStream(499*mib), "audio/mpeg", "talk.mp3", subscription.TierFree)

	require.NoError(t, err)
	assert.Equal(t, MediaAudio, adm.MediaType)
	assert.Equal(t, 499*mib, adm.SizeBytes)
	assert.Equal(t, 119.0, adm.DurationSeconds)
	require.Equal(t, 1, prober.calls)
	assert.Equal(t, []int64{499 * mib}, prober.sizes, "probe sees the full materialized upload")
	assertNoTempFiles(t, dir)
}

func TestValidateFreeTierExactlyAtSizeLimit(t *testing.T) {
	prober := &fakeProber{duration: 60}
	v, dir := newTestValidator(t, prober)

	err := v.Validate(context.Background(), newZeroStream(500*mib), "video/mp4", "clip.mp4", subscription.TierFree)

	assert.NoError(t, err)
	assertNoTempFiles(t, dir)
}

func TestValidateDurationExceeded(t *testing.T) {
	tests := []struct {
		name     string
		tier     subscription.Tier
		size     int64
		duration float64
		label    string
	}{
		{"free 121s", subscription.TierFree, 100 * mib, 121, "2-minute"},
		{"pro just over 4h", subscription.TierPro, 100 * mib, 14_400.5, "4-hour"},
		{"empty tier falls back to free", subscription.Tier(""), mib, 300, "2-minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{duration: tt.duration}
			v, dir := newTestValidator(t, prober)

			err := v.Validate(context.Background(), newZeroStream(tt.size), "audio/wav", "a.wav", tt.tier)

			ve := assertReason(t, err, ReasonDurationExceeded)
			assert.Contains(t, ve.Error(), tt.label)
			assert.ErrorIs(t, err, ErrDurationExceeded)
			assertNoTempFiles(t, dir)
		})
	}
}

func TestValidateDurationAtLimitPasses(t *testing.T) {
	prober := &fakeProber{duration: 120}
	v, dir := newTestValidator(t, prober)

	assert.NoError(t, v.Validate(context.Background(), newZeroStream(mib), "audio/ogg", "a.ogg", subscription.TierFree))
	assertNoTempFiles(t, dir)
}

func TestValidateProTierLargeUpload(t *testing.T) {
	prober := &fakeProber{duration: 10_000}
	v, dir := newTestValidator(t, prober)

	err := v.Validate(context.Background(), newZeroStream(4*gib), "video/mp4", "lecture.mp4", subscription.TierPro)

	assert.NoError(t, err)
	assert.Equal(t, 1, prober.calls)
	assertNoTempFiles(t, dir)
}

func TestValidateDurationRequired(t *testing.T) {
	tests := []struct {
		name   string
		prober *fakeProber
	}{
		{"probe error", &fakeProber{err: errors.New("moov atom not found")}},
		{"no duration", &fakeProber{err: ErrNoDuration}},
		{"zero duration", &fakeProber{duration: 0}},
		{"negative duration", &fakeProber{duration: -3}},
		{"NaN duration", &fakeProber{duration: math.NaN()}},
		{"infinite duration", &fakeProber{duration: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, dir := newTestValidator(t, tt.prober)

			err := v.Validate(context.Background(), newZeroStream(mib), "audio/mpeg", "a.mp3", subscription.TierPro)

			ve := assertReason(t, err, ReasonDurationRequired)
			assert.Equal(t, "File duration is required.", ve.Error())
			assert.Equal(t, 1, tt.prober.calls)
			assertNoTempFiles(t, dir)
		})
	}
}

func TestValidateEmptyStream(t *testing.T) {
	prober := &fakeProber{duration: 10}
	v, dir := newTestValidator(t, prober)

	err := v.Validate(context.Background(), newZeroStream(0), "audio/mpeg", "empty.mp3", subscription.TierFree)

	assertReason(t, err, ReasonDurationRequired)
	assertNoTempFiles(t, dir)
}

func TestValidateSizeCheckedBeforeDuration(t *testing.T) {
	prober := &fakeProber{duration: 100_000}
	v, dir := newTestValidator(t, prober)

	err := v.Validate(context.Background(), newZeroStream(500*mib+1), "video/mp4", "long.mp4", subscription.TierFree)

	assertReason(t, err, ReasonFileTooLarge)
	assert.NotErrorIs(t, err, ErrDurationExceeded)
	assert.Equal(t, 0, prober.calls)
	assertNoTempFiles(t, dir)
}

func TestValidateIsRepeatable(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		duration float64
		want     error
	}{
		{"accepted", mib, 30, nil},
		{"too long", mib, 500, ErrDurationExceeded},
		{"too large", 501 * mib, 30, ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{duration: tt.duration}
			v, dir := newTestValidator(t, prober)

			for i := 0; i < 2; i++ {
				err := v.Validate(context.Background(), newZeroStream(tt.size), "audio/mpeg", "a.mp3", subscription.TierFree)
				if tt.want == nil {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, tt.want)
				}
				assertNoTempFiles(t, dir)
			}
		})
	}
}

func TestValidateRecoversDurationPanic(t *testing.T) {
	prober := &fakeProber{panics: true}
	rec := &outcomeRecorder{}
	v, dir := newTestValidator(t, prober, WithRecorder(rec))

	var err error
	assert.NotPanics(t, func() {
		err = v.Validate(context.Background(), newZeroStream(mib), "audio/mpeg", "a.mp3", subscription.TierFree)
	})
	assert.ErrorIs(t, err, ErrDurationRequired)
	assert.Equal(t, []string{"free:" + string(ReasonDurationRequired)}, rec.results)
	assertNoTempFiles(t, dir)
}

func TestValidateRewindsBody(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int64
		duration    float64
	}{
		{"accepted", "audio/mpeg", mib, 30},
		{"rejected type", "text/plain", mib, 30},
		{"rejected size", "audio/mpeg", 501 * mib, 30},
		{"rejected duration", "audio/mpeg", mib, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestValidator(t, &fakeProber{duration: tt.duration})
			body := newZeroStream(tt.size)
			_, err := body.Seek(100, io.SeekStart)
			require.NoError(t, err)

			_ = v.Validate(context.Background(), body, tt.contentType, "a.mp3", subscription.TierFree)

			assert.Equal(t, int64(0), body.off)
		})
	}
}

func TestValidateMeasuresFromStart(t *testing.T) {
	v, _ := newTestValidator(t, &fakeProber{duration: 30})
	body := newZeroStream(500*mib + 1)
	_, err := body.Seek(10*mib, io.SeekStart)
	require.NoError(t, err)

	err = v.Validate(context.Background(), body, "audio/mpeg", "a.mp3", subscription.TierFree)

	assert.ErrorIs(t, err, ErrFileTooLarge, "a partially consumed body is still measured in full")
}

func TestValidateKeepsExtensionForProbe(t *testing.T) {
	prober := &fakeProber{duration: 30}
	v, _ := newTestValidator(t, prober)

	require.NoError(t, v.Validate(context.Background(), strings.NewReader("abc"), "audio/mpeg", "my song.MP3", subscription.TierFree))

	require.Len(t, prober.paths, 1)
	assert.Equal(t, ".MP3", filepath.Ext(prober.paths[0]))
}

func TestValidateCancelledContext(t *testing.T) {
	prober := &fakeProber{duration: 30}
	v, dir := newTestValidator(t, prober)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := v.Validate(ctx, newZeroStream(10*mib), "audio/mpeg", "a.mp3", subscription.TierFree)

	assert.ErrorIs(t, err, context.Canceled)
	_, isValidation := AsValidationError(err)
	assert.False(t, isValidation)
	assert.Equal(t, 0, prober.calls)
	assertNoTempFiles(t, dir)
}

func TestValidateSmallChunks(t *testing.T) {
	prober := &fakeProber{duration: 30}
	limits := func(subscription.Tier) subscription.Limits {
		return subscription.Limits{MaxBytes: 10, MaxDurationSeconds: 60, SizeLabel: "10 B", DurationLabel: "1-minute"}
	}
	v, _ := newTestValidator(t, prober, WithChunkSize(3), WithLimits(limits))

	assert.NoError(t, v.Validate(context.Background(), strings.NewReader("0123456789"), "audio/mpeg", "a.mp3", subscription.TierFree))

	err := v.Validate(context.Background(), strings.NewReader("0123456789A"), "audio/mpeg", "a.mp3", subscription.TierFree)
	ve := assertReason(t, err, ReasonFileTooLarge)
	assert.Equal(t, "File size exceeds 10 B limit", ve.Error())
}

func TestValidateRecordsOutcomes(t *testing.T) {
	rec := &outcomeRecorder{}
	v, _ := newTestValidator(t, &fakeProber{duration: 30}, WithRecorder(rec))
	ctx := context.Background()

	_ = v.Validate(ctx, newZeroStream(mib), "audio/mpeg", "a.mp3", subscription.TierPro)
	_ = v.Validate(ctx, newZeroStream(mib), "text/plain", "a.txt", subscription.TierFree)
	_ = v.Validate(ctx, newZeroStream(mib), "audio/mpeg", "a.mp3", subscription.Tier("weird"))

	assert.Equal(t, []string{
		"pro:accepted",
		"free:invalid_file_type",
		"free:accepted",
	}, rec.results)
	assert.Equal(t, 2, rec.probes)
}

func TestValidateConcurrentCallsAreIndependent(t *testing.T) {
	prober := &fakeProber{duration: 30}
	v, dir := newTestValidator(t, prober)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Validate(context.Background(), newZeroStream(2*mib), "video/webm", "v.webm", subscription.TierFree))
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, prober.calls)
	seen := map[string]bool{}
	for _, p := range prober.paths {
		assert.False(t, seen[p], "temp file reused across calls")
		seen[p] = true
	}
	assertNoTempFiles(t, dir)
}

func TestMediaTypeOf(t *testing.T) {
	tests := []struct {
		contentType string
		want        MediaType
		ok          bool
	}{
		{"audio/mpeg", MediaAudio, true},
		{"audio/x-wav", MediaAudio, true},
		{"video/mp4", MediaVideo, true},
		{"video/", MediaVideo, true},
		{"Video/mp4", "", false},
		{"image/png", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, ok := MediaTypeOf(tt.contentType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTempSuffix(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"song.mp3", ".mp3"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
		{"", ""},
		{"trailing.", ""},
		{"weird.m*p3", ""},
		{"space.m p3", ""},
		{"long.abcdefghijklmnopq", ""},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, tempSuffix(tt.filename))
		})
	}
}

func TestValidationErrorMatching(t *testing.T) {
	err := error(&ValidationError{Reason: ReasonFileTooLarge, Message: "File size exceeds 5 GB limit"})

	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.NotErrorIs(t, err, ErrDurationExceeded)
	assert.Equal(t, "duration_required", ErrDurationRequired.Error())

	wrapped := errors.Join(errors.New("upload rejected"), err)
	ve, ok := AsValidationError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ReasonFileTooLarge, ve.Reason)
}
