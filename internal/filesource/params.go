package filesource

import (
	"errors"
	"io/fs"

	"github.com/albertocavalcante/skyvars/internal/varsource"
)

// pathParam returns the mandatory path argument.
func pathParam(params []any) (string, error) {
	if len(params) == 0 || params[0] == nil {
		return "", varsource.Newf(varsource.CodeMissingFileSourcePath,
			`Missing path argument in variable "%s" source`, Name)
	}
	p, ok := params[0].(string)
	if !ok {
		return "", varsource.Newf(varsource.CodeInvalidFileSourcePath,
			`Invalid path argument in variable "%s" source: expected a string, got %T`, Name, params[0])
	}
	if p == "" {
		return "", varsource.Newf(varsource.CodeMissingFileSourcePath,
			`Missing path argument in variable "%s" source`, Name)
	}
	return p, nil
}

// addressParam returns the optional address and whether one was given.
// An empty address selects the whole content.
func addressParam(address any) (string, bool, error) {
	if address == nil {
		return "", false, nil
	}
	s, ok := address.(string)
	if !ok {
		return "", false, varsource.Newf(varsource.CodeInvalidFileSourceAddress,
			`Invalid address argument in variable "%s" source: expected a string, got %T`, Name, address)
	}
	if s == "" {
		return "", false, nil
	}
	return s, true, nil
}

// osMessage returns an OS error message without the absolute path that
// *fs.PathError puts in front of it.
func osMessage(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Op + ": " + pe.Err.Error()
	}
	return err.Error()
}
