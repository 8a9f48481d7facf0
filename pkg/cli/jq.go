package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// ApplyJQ runs a jq expression over a JSON document and renders each
// result on its own line, matching `jq` output. Used by the --jq flag on
// the status command so scripted callers can slice state without piping
// through an external binary.
func ApplyJQ(data []byte, expr string) (string, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return "", fmt.Errorf("cli: parsing jq expression %q: %w", expr, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("cli: input is not valid JSON: %w", err)
	}

	var buf bytes.Buffer
	iter := query.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return "", fmt.Errorf("cli: jq: %w", err)
		}
		switch v := v.(type) {
		case string:
			// Bare strings print unquoted, like jq -r.
			buf.WriteString(v)
		default:
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return "", err
			}
			buf.Write(out)
		}
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}
