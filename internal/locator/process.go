package locator

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1
	// maxResponse guards against a garbage length header.
	maxResponse = 64 << 20
)

// Process delegates detection to an external program (for example a Python model).
//
// Protocol, all integers big endian:
//
//	request  (stdin): [uint32 len][PNG bytes]
//	response (fd 3):  [uint32 len][status byte][body]
//	  status 0: [uint32 n] then n x [float32 x][float32 y][float32 w][float32 h][float32 score]
//	  status 1: [uint32 msgLen][msg]
type Process struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	ScoreThreshold float32
	MaxFaces       int

	mu sync.Mutex
}

// NewProcess starts command (split on whitespace) and wires the data pipe.
func NewProcess(ctx context.Context, id int, command string) (*Process, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty locator command")
	}
	py := utils.NewSafeCommand(ctx, fields[0], fields[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("locator %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Process{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

func (p *Process) Locate(ctx context.Context, img image.Image) ([]types.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, errors.Wrap(err, "encode image for locator process")
	}
	dets, err := p.Detect(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return selectDetections(dets, p.ScoreThreshold, p.MaxFaces), nil
}

// Detect sends one encoded image and decodes the detections in the reply.
func (p *Process) Detect(data []byte) ([]types.Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp, err := p.communicate(data)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func (p *Process) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(p.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := p.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(p.DataPipe, header); err != nil {
		return nil, err // This is where we catch a crashed detector
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("locator response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(p.DataPipe, respBody)
	return respBody, err
}

func decodeResponse(resp []byte) ([]types.Detection, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "read locator status")
	}

	switch status {
	case statusOK:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, errors.Wrap(err, "read face count")
		}
		if int64(n)*20 > int64(r.Len()) {
			return nil, fmt.Errorf("locator reported %d faces but sent %d bytes", n, r.Len())
		}
		dets := make([]types.Detection, 0, n)
		for i := uint32(0); i < n; i++ {
			var rec [5]float32
			if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
				return nil, errors.Wrapf(err, "read face %d", i)
			}
			if !finite(rec[:]) {
				continue
			}
			dets = append(dets, types.Detection{
				Region: types.Region{X: float64(rec[0]), Y: float64(rec[1]), Width: float64(rec[2]), Height: float64(rec[3])},
				Score:  rec[4],
			})
		}
		return dets, nil

	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, errors.Wrap(err, "read error length")
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, errors.Wrap(err, "read error message")
		}
		return nil, fmt.Errorf("locator process error: %s", msg)

	default:
		return nil, fmt.Errorf("unknown locator status %d", status)
	}
}

func finite(vals []float32) bool {
	for _, v := range vals {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// Close ends the process and waits for it to exit.
func (p *Process) Close() {
	p.Stdin.Close()
	p.DataPipe.Close()
	if p.Cmd != nil {
		p.Cmd.Wait()
	}
}
