package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// sseDone is the sentinel record that ends a completion stream
const sseDone = "[DONE]"

// sseParser reads newline-delimited `data:` records of an event stream
type sseParser struct {
	reader *bufio.Reader
}

func newSSEParser(r io.Reader) *sseParser {
	return &sseParser{reader: bufio.NewReader(r)}
}

// Next returns the payload of the next data record. Blank lines, comments and
// other fields are skipped. io.EOF is returned once the body is exhausted.
func (p *sseParser) Next() (string, error) {
	for {
		line, err := p.reader.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return "", err
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line != "" && !strings.HasPrefix(line, ":") {
			if field, value := splitSSEField(line); field == "data" {
				return value, nil
			}
		}

		if eof {
			return "", io.EOF
		}
	}
}

func splitSSEField(line string) (field string, value string) {
	index := strings.IndexByte(line, ':')
	if index < 0 {
		return line, ""
	}
	field = line[:index]
	value = line[index+1:]
	if strings.HasPrefix(value, " ") {
		value = value[1:]
	}
	return field, value
}
