package protocol

import (
	"fmt"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schemas holds compiled validators for client-supplied messages. Server
// messages are trusted; only HELLO and CMD cross the trust boundary.
type Schemas struct {
	Hello *jsonschema.Schema
	Cmd   *jsonschema.Schema
}

func LoadSchemas(dir string) (*Schemas, error) {
	compile := func(name string) (*jsonschema.Schema, error) {
		s, err := jsonschema.Compile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		return s, nil
	}
	hello, err := compile("hello.schema.json")
	if err != nil {
		return nil, err
	}
	cmd, err := compile("cmd.schema.json")
	if err != nil {
		return nil, err
	}
	return &Schemas{Hello: hello, Cmd: cmd}, nil
}
