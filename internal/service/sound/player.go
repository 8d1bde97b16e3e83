package sound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Player renders a WAV clip.
type Player interface {
	Play(ctx context.Context, wav []byte) error
}

// CommandPlayer pipes the clip to an external command, e.g. aplay -q -.
type CommandPlayer struct {
	Command []string
}

func (p CommandPlayer) Play(ctx context.Context, wav []byte) error {
	if len(p.Command) == 0 {
		return errors.New("no playback command configured")
	}
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(wav)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.Command[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// BellPlayer rings the terminal bell. The clip itself is ignored.
type BellPlayer struct {
	Out io.Writer
}

func (p BellPlayer) Play(ctx context.Context, wav []byte) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	_, err := out.Write([]byte{'\a'})
	return err
}

type NopPlayer struct{}

func (NopPlayer) Play(context.Context, []byte) error { return nil }

// PlayerFor maps the configured player name to a Player.
func PlayerFor(name string, command []string) (Player, error) {
	switch name {
	case "command":
		return CommandPlayer{Command: command}, nil
	case "bell", "":
		return BellPlayer{}, nil
	case "none":
		return NopPlayer{}, nil
	default:
		return nil, fmt.Errorf("unknown sound player %q", name)
	}
}
