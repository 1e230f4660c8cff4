// Package validate checks uploaded model payloads before they are accepted
// into the repository.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

const (
	// Minimum geometry for a model with some shape. At least a cube.
	minVertexCount   = 8
	minTriangleCount = 12

	headerProbeBytes = 4
)

var glbMagic = []byte("glTF")

var (
	// ErrNotGLB indicates the payload does not carry the GLB container magic.
	ErrNotGLB = errors.New("validate: payload is not a glb file")
	// ErrInvalidModel indicates the validator found structural errors.
	ErrInvalidModel = errors.New("validate: model failed validation")
	// ErrDegenerateModel indicates the model carries too little geometry.
	ErrDegenerateModel = errors.New("validate: model has no usable shape")
	// ErrValidatorUnavailable indicates the external validator could not run.
	ErrValidatorUnavailable = errors.New("validate: gltf validator unavailable")
)

// GLBValidatorConfig configures the uploaded-model validator.
type GLBValidatorConfig struct {
	// ValidatorBinary is the path to the Khronos gltf-validator CLI. When
	// empty, only the container header is checked.
	ValidatorBinary string
	Logger          *zap.Logger
}

// GLBValidator rejects payloads that are not structurally sound GLB models.
type GLBValidator struct {
	validatorBinary string
	logger          *zap.Logger
}

// NewGLBValidator constructs a validator.
func NewGLBValidator(cfg GLBValidatorConfig) *GLBValidator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GLBValidator{
		validatorBinary: cfg.ValidatorBinary,
		logger:          logger,
	}
}

type validatorReport struct {
	Info struct {
		TotalVertexCount   int `json:"totalVertexCount"`
		TotalTriangleCount int `json:"totalTriangleCount"`
	} `json:"info"`
	Issues struct {
		NumErrors int               `json:"numErrors"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"issues"`
}

// Validate reads the whole payload, checks the GLB magic, and when an
// external validator binary is configured runs it against the payload. It
// returns the payload bytes so callers can persist exactly what was checked.
func (v *GLBValidator) Validate(ctx context.Context, payload io.Reader) ([]byte, error) {
	content, err := io.ReadAll(payload)
	if err != nil {
		return nil, fmt.Errorf("validate: reading payload: %w", err)
	}
	if len(content) < headerProbeBytes || !bytes.Equal(content[:headerProbeBytes], glbMagic) {
		return nil, ErrNotGLB
	}
	if v.validatorBinary == "" {
		return content, nil
	}

	report, err := v.runValidator(ctx, content)
	if err != nil {
		return nil, err
	}
	if report.Info.TotalVertexCount < minVertexCount || report.Info.TotalTriangleCount < minTriangleCount {
		return nil, ErrDegenerateModel
	}
	if report.Issues.NumErrors > 0 {
		v.logger.Info("model rejected by validator",
			zap.Int("errors", report.Issues.NumErrors))
		return nil, fmt.Errorf("%w: %d errors", ErrInvalidModel, report.Issues.NumErrors)
	}
	return content, nil
}

func (v *GLBValidator) runValidator(ctx context.Context, content []byte) (validatorReport, error) {
	temp, err := os.CreateTemp("", "model-*.glb")
	if err != nil {
		return validatorReport{}, fmt.Errorf("%w: %v", ErrValidatorUnavailable, err)
	}
	defer func() {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
	}()
	if _, err := temp.Write(content); err != nil {
		return validatorReport{}, fmt.Errorf("%w: %v", ErrValidatorUnavailable, err)
	}

	command := exec.CommandContext(ctx, v.validatorBinary, temp.Name(), "-o")
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			v.logger.Error("gltf validator not runnable",
				zap.String("binary", v.validatorBinary),
				zap.Error(err))
			return validatorReport{}, fmt.Errorf("%w: %v", ErrValidatorUnavailable, err)
		}
		// The validator exits non-zero for invalid models but still emits a
		// JSON report on stdout.
	}

	var report validatorReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		v.logger.Error("gltf validator returned invalid json",
			zap.ByteString("stderr", stderr.Bytes()),
			zap.Error(err))
		return validatorReport{}, fmt.Errorf("%w: invalid report: %v", ErrValidatorUnavailable, err)
	}
	return report, nil
}
