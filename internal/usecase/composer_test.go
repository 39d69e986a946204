package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"mediro-bff/internal/domain"
)

type fakeRecognizer struct {
	started  int
	stopped  int
	startErr error
	emit     []string
}

func (f *fakeRecognizer) Start(_ context.Context, onTranscript func(string)) error {
	f.started++
	if f.startErr != nil {
		return f.startErr
	}
	for _, s := range f.emit {
		onTranscript(s)
	}
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.stopped++
	return nil
}

func TestComposer_Attach(t *testing.T) {
	c := NewComposer(AllFeatures(), nil)
	expectCode(t, c.Attach(domain.Attachment{}), ErrorValidation, "empty_image")

	require.NoError(t, c.Attach(domain.Attachment{Filename: "a.png", Data: []byte("a")}))
	require.NoError(t, c.Attach(domain.Attachment{Filename: "b.png", Data: []byte("b")}))
	require.Equal(t, "b.png", c.PendingImage().Filename, "a new attachment replaces the pending one")

	c.ClearImage()
	require.Nil(t, c.PendingImage())

	disabled := NewComposer(Features{}, nil)
	expectCode(t, disabled.Attach(domain.Attachment{Data: []byte("a")}), ErrorFeatureDisabled, "image_attach_disabled")
}

func TestComposer_DictationUnavailable(t *testing.T) {
	ctx := context.Background()

	noRecognizer := NewComposer(AllFeatures(), nil)
	require.False(t, noRecognizer.DictationAvailable())
	ok, err := noRecognizer.StartDictation(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	rec := &fakeRecognizer{}
	voiceOff := NewComposer(Features{ImageAttach: true}, rec)
	ok, err = voiceOff.StartDictation(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, rec.started)
}

func TestComposer_DictationAppendsTranscript(t *testing.T) {
	rec := &fakeRecognizer{emit: []string{"I have", " a headache "}}
	c := NewComposer(AllFeatures(), rec)
	c.SetText("Hello.")

	ok, err := c.StartDictation(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Hello. I have a headache", c.Text())

	// Starting twice does not restart the recognizer.
	ok, err = c.StartDictation(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rec.started)

	require.NoError(t, c.StopDictation())
	require.NoError(t, c.StopDictation())
	require.Equal(t, 1, rec.stopped)
}

func TestComposer_DictationStartFailure(t *testing.T) {
	rec := &fakeRecognizer{startErr: errors.New("mic denied")}
	c := NewComposer(AllFeatures(), rec)

	ok, err := c.StartDictation(context.Background())
	require.False(t, ok)
	expectCode(t, err, ErrorInternal, "dictation_start_error")
	require.NoError(t, c.StopDictation())
	require.Zero(t, rec.stopped)
}

func TestComposer_ConsumeKeepsNewerDraft(t *testing.T) {
	c := NewComposer(AllFeatures(), nil)
	c.SetText("first")
	draft, _ := c.snapshot()
	c.SetText("second")
	c.consumeText(draft)
	require.Equal(t, "second", c.Text())
}
