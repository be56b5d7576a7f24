package supervisor

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/oshokin/node-upgrader/internal/domain/release"
	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
)

// commandKey is the directive holding the program command line.
const commandKey = "command"

// Command is the value of the command directive split into the binary and its arguments.
type Command struct {
	// Binary is the first token: the path of the executable.
	Binary string
	// Args is everything after the binary, verbatim.
	Args string
}

// Document is a parsed supervisord configuration with exactly one command directive.
type Document struct {
	lines []string

	// Section is the section holding the directive, e.g. "program:geth".
	Section string
	// Command is the parsed directive value.
	Command Command

	line        int
	binaryStart int
	binaryEnd   int
}

// Parse validates data as supervisord INI and locates its command directive.
// Anything other than exactly one non-empty directive is ErrConfigFormat.
func Parse(data []byte) (*Document, error) {
	//nolint:exhaustruct // Only the options that differ from ini defaults.
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowShadows:               true,
		AllowDuplicateShadowValues: true,
		InsensitiveKeys:            true,
		SpaceBeforeInlineComment:   true,
		AllowPythonMultilineValues: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", upgrade.ErrConfigFormat, err)
	}

	section, value, err := singleCommand(file)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		lines:   splitLines(data),
		Section: section,
	}

	if err = doc.locate(value); err != nil {
		return nil, err
	}

	return doc, nil
}

// Release returns the identifier encoded in the trailing _<id> of the binary path.
func (d *Document) Release() (release.Identifier, error) {
	id, err := release.FromBinaryPath(d.Command.Binary)
	if err != nil {
		return "", fmt.Errorf("%w: command %q: %w", upgrade.ErrConfigFormat, d.Command.Binary, err)
	}

	return id, nil
}

// WithBinary returns a copy of d whose command runs binary. Arguments and
// every other byte of the document are kept.
func (d *Document) WithBinary(binary string) (*Document, error) {
	if binary == "" || strings.ContainsAny(binary, " \t\r\n;#") {
		return nil, fmt.Errorf("%w: unusable binary path %q", upgrade.ErrConfigFormat, binary)
	}

	if _, err := release.FromBinaryPath(binary); err != nil {
		return nil, fmt.Errorf("%w: %w", upgrade.ErrConfigFormat, err)
	}

	lines := make([]string, len(d.lines))
	copy(lines, d.lines)

	old := lines[d.line]
	lines[d.line] = old[:d.binaryStart] + binary + old[d.binaryEnd:]

	return &Document{
		lines:       lines,
		Section:     d.Section,
		Command:     Command{Binary: binary, Args: d.Command.Args},
		line:        d.line,
		binaryStart: d.binaryStart,
		binaryEnd:   d.binaryStart + len(binary),
	}, nil
}

// Bytes serializes the document.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	for _, line := range d.lines {
		buf.WriteString(line)
	}

	return buf.Bytes()
}

// singleCommand returns the section and value of the only command directive.
func singleCommand(file *ini.File) (string, string, error) {
	var (
		section string
		values  []string
	)

	for _, s := range file.Sections() {
		if !s.HasKey(commandKey) {
			continue
		}

		shadows := s.Key(commandKey).ValueWithShadows()
		if len(shadows) > 0 {
			section = s.Name()
		}

		values = append(values, shadows...)
	}

	if len(values) != 1 {
		return "", "", fmt.Errorf("%w: expected exactly one %s directive, found %d", upgrade.ErrConfigFormat, commandKey, len(values))
	}

	return section, values[0], nil
}

// locate finds the raw line of the directive and the byte span of its binary.
// The raw value must agree with what ini parsed, which rules out quoted and
// continued directives.
func (d *Document) locate(parsed string) error {
	var (
		current = ini.DefaultSection
		found   = -1
	)

	for i, line := range d.lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "", trimmed[0] == ';', trimmed[0] == '#':
			continue
		case trimmed[0] == '[':
			if end := strings.IndexByte(trimmed, ']'); end > 0 {
				current = strings.TrimSpace(trimmed[1:end])
			}

			continue
		}

		key, valueStart, ok := splitDirective(line)
		if !ok || !strings.EqualFold(key, commandKey) || current != d.Section {
			continue
		}

		if found >= 0 {
			return fmt.Errorf("%w: several %s directives in [%s]", upgrade.ErrConfigFormat, commandKey, d.Section)
		}

		found = i
		d.line = i
		d.binaryStart = valueStart
	}

	if found < 0 {
		return fmt.Errorf("%w: %s directive of [%s] not found", upgrade.ErrConfigFormat, commandKey, d.Section)
	}

	raw := rawValue(d.lines[d.line][d.binaryStart:])
	if raw != strings.TrimSpace(parsed) {
		return fmt.Errorf("%w: unsupported %s syntax %q", upgrade.ErrConfigFormat, commandKey, raw)
	}

	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty %s directive", upgrade.ErrConfigFormat, commandKey)
	}

	binary := fields[0]
	d.binaryEnd = d.binaryStart + len(binary)
	d.Command = Command{
		Binary: binary,
		Args:   strings.TrimSpace(raw[len(binary):]),
	}

	return nil
}

// splitDirective returns the key of a "key = value" or "key: value" line and
// the offset where the value starts.
func splitDirective(line string) (string, int, bool) {
	delimiter := strings.IndexAny(line, "=:")
	if delimiter < 0 {
		return "", 0, false
	}

	start := delimiter + 1
	for start < len(line) && (line[start] == ' ' || line[start] == '\t') {
		start++
	}

	return strings.TrimSpace(line[:delimiter]), start, true
}

// rawValue cuts a value at its line ending and at an inline comment
// introduced by a space, the way ini reads it.
func rawValue(s string) string {
	s = strings.TrimRight(s, "\r\n")

	i := strings.Index(s, " #")
	if i < 0 {
		i = strings.Index(s, " ;")
	}

	if i >= 0 {
		s = s[:i]
	}

	return strings.TrimSpace(s)
}

// splitLines splits data after every '\n', keeping the separators.
func splitLines(data []byte) []string {
	text := string(data)
	lines := make([]string, 0, strings.Count(text, "\n")+1)

	for text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, text)

			break
		}

		lines = append(lines, text[:i+1])
		text = text[i+1:]
	}

	return lines
}
