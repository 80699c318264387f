package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

const maxVolume = 150

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// runFunc executes a pactl invocation and returns its stdout.
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

func runPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// Ducker lowers the volume of other applications' PulseAudio sink inputs
// while the assistant speaks. Streams whose application.name is in selfNames
// are never touched.
type Ducker struct {
	mu          sync.Mutex
	active      bool
	selfNames   []string
	originalVol map[int]int
	minVolume   int
	run         runFunc
}

func NewDucker(selfNames []string, minVolume int) *Ducker {
	return &Ducker{
		selfNames:   append([]string(nil), selfNames...),
		originalVol: make(map[int]int),
		minVolume:   clampVolume(minVolume),
		run:         runPactl,
	}
}

// Active reports whether other streams are currently ducked.
func (d *Ducker) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.active
}

// Duck fades every foreign stream to current*factor, never below minVolume.
func (d *Ducker) Duck(ctx context.Context, factor float64, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.originalVol = make(map[int]int)

	var targets []fadeTarget

	for _, in := range inputs {
		if d.isSelf(in) {
			continue
		}

		to := math.Max(float64(in.Volume)*factor, float64(d.minVolume))

		d.originalVol[in.ID] = in.Volume

		targets = append(targets, fadeTarget{
			id:   in.ID,
			from: in.Volume,
			to:   clampVolume(int(math.Round(to))),
		})
	}

	if err := d.fade(ctx, targets, fade); err != nil {
		return err
	}

	d.active = true

	return nil
}

// Restore fades ducked streams back to the volume they had before Duck.
// Streams that appeared after Duck are left alone.
func (d *Ducker) Restore(ctx context.Context, fade time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget

	for _, in := range inputs {
		if d.isSelf(in) {
			continue
		}

		orig, ok := d.originalVol[in.ID]
		if !ok {
			continue
		}

		targets = append(targets, fadeTarget{id: in.ID, from: in.Volume, to: orig})
	}

	if err := d.fade(ctx, targets, fade); err != nil {
		return err
	}

	d.originalVol = make(map[int]int)
	d.active = false

	return nil
}

func (d *Ducker) isSelf(in sinkInput) bool {
	for _, name := range d.selfNames {
		if in.AppName == name {
			return true
		}
	}

	return false
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	_, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", clampVolume(percent)))
	if err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}

	return nil
}

// fade steps every target linearly from its start to its end volume.
func (d *Ducker) fade(ctx context.Context, targets []fadeTarget, duration time.Duration) error {
	if len(targets) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond

	steps := int(duration / minStep)
	if steps < 1 {
		steps = 1
	}
	stepDuration := duration / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		if duration <= 0 {
			i = steps
		}

		frac := float64(i) / float64(steps)

		for _, t := range targets {
			v := float64(t.from) + float64(t.to-t.from)*frac

			if err := d.setVolume(ctx, t.id, int(math.Round(v))); err != nil {
				return err
			}
		}

		if i < steps {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(stepDuration):
			}
		}
	}

	return nil
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []sinkInput

	for _, block := range parts[1:] {
		newline := strings.IndexByte(block, '\n')
		if newline <= 0 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(block[:newline]))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}

		for _, line := range strings.Split(block[newline+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && in.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						in.Volume = v
					}
				}
			}

			if strings.HasPrefix(line, "application.name =") && in.AppName == "" {
				if first := strings.IndexByte(line, '"'); first >= 0 {
					rest := line[first+1:]
					if second := strings.IndexByte(rest, '"'); second >= 0 {
						in.AppName = rest[:second]
					}
				}
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}

		res = append(res, in)
	}

	return res
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxVolume {
		return maxVolume
	}

	return v
}
