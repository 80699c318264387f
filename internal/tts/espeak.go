package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
hark_init(void)
{
	return espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0);
}

static int
hark_voice(const char *lang, int gender, int rate)
{
	espeak_VOICE v;
	memset(&v, 0, sizeof v);
	v.languages = lang;
	v.gender = gender;

	if (espeak_SetVoiceByProperties(&v) != EE_OK)
	{ return -1; }

	return espeak_SetParameter(espeakRATE, rate, 0) == EE_OK ? 0 : -1;
}

static int
hark_say(const char *text)
{
	if (!text)
	{ return -1; }

	espeak_ERROR rc = espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0,
		espeakCHARS_AUTO, NULL, NULL);
	if (rc != EE_OK)
	{ return (int)rc; }

	espeak_Synchronize();

	return 0;
}

static void
hark_cancel(void)
{
	espeak_Cancel();
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

const defaultRate = 150

var (
	initOnce sync.Once
	initErr  error
)

func initEspeak() error {
	initOnce.Do(func() {
		if rc := C.hark_init(); rc < 0 {
			initErr = fmt.Errorf("espeak_Initialize failed: %d", int(rc))
		}
	})
	return initErr
}

// Espeak is the local espeak-ng engine. One utterance plays at a time.
type Espeak struct {
	mu     sync.Mutex
	lang   string
	gender Gender
	rate   int
}

// NewEspeak initialises espeak-ng once per process and returns an engine for
// the given language tag ("en-US", "ar-SA") and voice gender.
func NewEspeak(lang string, gender Gender) (*Espeak, error) {
	if err := initEspeak(); err != nil {
		return nil, err
	}
	return &Espeak{lang: espeakLanguage(lang), gender: gender, rate: defaultRate}, nil
}

func (e *Espeak) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	clang := C.CString(e.lang)
	defer C.free(unsafe.Pointer(clang))

	if rc := C.hark_voice(clang, C.int(e.gender), C.int(e.rate)); rc != 0 {
		return errors.New("espeak: cannot select voice " + e.lang)
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	stop := context.AfterFunc(ctx, func() { C.hark_cancel() })
	defer stop()

	if rc := C.hark_say(ctext); rc != 0 {
		return fmt.Errorf("espeak_Synth failed: %d", int(rc))
	}

	return ctx.Err()
}

// Stop cancels the utterance in progress, if any.
func (e *Espeak) Stop() {
	C.hark_cancel()
}

func espeakLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	switch {
	case tag == "":
		return "en-us"
	case strings.HasPrefix(tag, "ar"):
		return "ar"
	default:
		return strings.ReplaceAll(tag, "_", "-")
	}
}
