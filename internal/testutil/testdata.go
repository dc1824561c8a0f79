package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// ReadFile returns the contents of a file stored next to this package.
func ReadFile(filename string) ([]byte, error) {
	_, currentFile, _, _ := runtime.Caller(0)
	return os.ReadFile(filepath.Join(filepath.Dir(currentFile), filename))
}

// LoadJSON reads a JSON file from this package and unmarshals it into target.
func LoadJSON(filename string, target any) error {
	data, err := ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// LoadMessages reads a JSON array and returns each element as raw bytes, the
// way a JSON converter writes them to a topic.
func LoadMessages(filename string) ([][]byte, error) {
	var raw []json.RawMessage
	if err := LoadJSON(filename, &raw); err != nil {
		return nil, err
	}
	msgs := make([][]byte, len(raw))
	for i, m := range raw {
		msgs[i] = []byte(m)
	}
	return msgs, nil
}
