package segmenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spheroseg/segpipeline/core/contour"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

const stderrTail = 2048

// Exec runs a segmentation program once per image. The program is called
// as
//
//	<command> --image_path IN --output_path OUT --size N [--checkpoint_path M] [--threshold T]
//
// and must write a grayscale mask to OUT.
type Exec struct {
	argv        []string
	modelPath   string
	workingSize int
	workDir     string
}

func NewExec(command, modelPath string, workingSize int, workDir string) (*Exec, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("segmenter command is empty")
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Exec{argv: argv, modelPath: modelPath, workingSize: workingSize, workDir: workDir}, nil
}

func (e *Exec) Segment(ctx context.Context, img []byte, params domain.Parameters) (*image.Gray, error) {
	_, format, err := contour.DecodeConfig(img)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(e.workDir, "segment-")
	if err != nil {
		return nil, fmt.Errorf("segmenter work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input."+format)
	out := filepath.Join(dir, "mask.png")
	if err := os.WriteFile(in, img, 0o600); err != nil {
		return nil, fmt.Errorf("write segmenter input: %w", err)
	}

	args := append([]string{}, e.argv[1:]...)
	args = append(args,
		"--image_path", in,
		"--output_path", out,
		"--size", strconv.Itoa(e.workingSize),
	)
	if e.modelPath != "" {
		args = append(args, "--checkpoint_path", e.modelPath)
	}
	if t, ok, err := params.Float("threshold"); err != nil {
		return nil, err
	} else if ok {
		args = append(args, "--threshold", strconv.FormatFloat(t, 'f', -1, 64))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.argv[0], args...)
	cmd.Dir = dir
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("segmenter process: %w", ctxErr)
		}
		return nil, fmt.Errorf("segmenter process: %w: %s", err, tail(stderr.Bytes()))
	}

	return contour.LoadFile(out)
}

func (e *Exec) Available() error {
	if _, err := exec.LookPath(e.argv[0]); err != nil {
		return fmt.Errorf("segmenter command: %w", err)
	}
	_, err := CheckModel(e.modelPath)
	return err
}

func tail(b []byte) string {
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return strings.TrimSpace(string(b))
}
