package simservice

import (
	"bytes"
	"fmt"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/worker"
	"github.com/starford/rpfba/pkg/config"
)

// RequestDoc is the document form of a Request, as sent in the REST "data"
// part or the MCP "params" argument.
type RequestDoc struct {
	worker.Params `yaml:",inline"`
	InputFormat   string `yaml:"input_format" json:"input_format" example:"tar"`
	Compression   string `yaml:"compression" json:"compression" example:"xz"`
}

// Validate checks the simulation parameters and the envelope fields.
func (d *RequestDoc) Validate() error {
	if err := d.Params.Validate(); err != nil {
		return err
	}
	if d.InputFormat != "" && d.InputFormat != FormatTar && d.InputFormat != FormatSBML {
		return fmt.Errorf("%w: input_format %q", apperr.ErrConfig, d.InputFormat)
	}
	if _, err := archive.ParseCompression(d.Compression); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrConfig, err)
	}
	return nil
}

// DecodeRequest applies a YAML or JSON document over defaults. An empty
// document yields the defaults. Errors match apperr.ErrConfig.
func DecodeRequest(defaults worker.Params, data []byte) (Request, error) {
	doc := RequestDoc{Params: defaults}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := config.Decode(data, &doc); err != nil {
			return Request{}, fmt.Errorf("%w: %w", apperr.ErrConfig, err)
		}
	} else if err := doc.Validate(); err != nil {
		return Request{}, err
	}
	compression, _ := archive.ParseCompression(doc.Compression)
	return Request{
		Params:      doc.Params,
		Format:      doc.InputFormat,
		Compression: compression,
	}, nil
}
