package eval

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/recallbench/pkg/models"
)

// ErrSourceNotFound is returned when a question source does not exist.
var ErrSourceNotFound = errors.New("eval: question source not found")

// ParseError reports a question source that could not be read or yielded
// no question.
type ParseError struct {
	Source string
	Line   int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("eval: parse %s:%d: %s", e.Source, e.Line, msg)
	}
	return fmt.Sprintf("eval: parse %s: %s", e.Source, msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// QuestionSet is the YAML question-set layout.
type QuestionSet struct {
	Name      string         `yaml:"name"`
	Questions []yamlQuestion `yaml:"questions"`
}

type yamlQuestion struct {
	Prompt      string `yaml:"prompt"`
	GroundTruth string `yaml:"ground_truth"`
	Category    string `yaml:"category"`
}

var (
	promptHeaders   = []string{"prompt", "question"}
	categoryHeaders = []string{"memory type", "type", "category"}
	truthHeaders    = []string{"ground truth answer", "answer", "ground truth", "ground_truth"}
)

// LoadQuestions reads questions from path. YAML files are decoded as a
// question set; other files are parsed as CSV/TSV, falling back to the
// Q:/A: text format when the first line starts with "Q:".
func LoadQuestions(path string) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("eval: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseQuestionSet(data, path)
	}
	return ParseQuestions(bytes.NewReader(data), path)
}

// ParseQuestionSet decodes a YAML question set.
func ParseQuestionSet(data []byte, source string) ([]models.Question, error) {
	var set QuestionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, &ParseError{Source: source, Msg: "decode question set", Err: err}
	}
	var out []models.Question
	for _, q := range set.Questions {
		if strings.TrimSpace(q.Prompt) == "" {
			continue
		}
		out = append(out, models.Question{
			Index:       len(out),
			Prompt:      strings.TrimSpace(q.Prompt),
			GroundTruth: strings.TrimSpace(q.GroundTruth),
			Category:    strings.TrimSpace(q.Category),
		})
	}
	if len(out) == 0 {
		return nil, &ParseError{Source: source, Msg: "no questions"}
	}
	return out, nil
}

// ParseQuestions parses tabular or Q:/A: text questions.
func ParseQuestions(r io.Reader, source string) ([]models.Question, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Source: source, Msg: "read", Err: err}
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	first := firstLine(data)
	if first == "" {
		return nil, &ParseError{Source: source, Msg: "empty source"}
	}
	if strings.HasPrefix(strings.ToUpper(first), "Q:") {
		return parseQA(data, source)
	}
	return parseTable(data, source, first)
}

func firstLine(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

func parseTable(data []byte, source, header string) ([]models.Question, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	if strings.Contains(header, "\t") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	cols, err := reader.Read()
	if err != nil {
		return nil, &ParseError{Source: source, Line: 1, Msg: "read header", Err: err}
	}
	promptCol := column(cols, promptHeaders)
	truthCol := column(cols, truthHeaders)
	categoryCol := column(cols, categoryHeaders)
	if promptCol < 0 || truthCol < 0 {
		return nil, &ParseError{Source: source, Line: 1, Msg: fmt.Sprintf("header needs a prompt and a ground truth column, got %q", cols)}
	}

	var out []models.Question
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			pe := &ParseError{Source: source, Msg: "read row", Err: err}
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				pe.Line = csvErr.Line
			}
			return nil, pe
		}
		prompt := field(row, promptCol)
		if prompt == "" {
			continue
		}
		out = append(out, models.Question{
			Index:       len(out),
			Prompt:      prompt,
			GroundTruth: field(row, truthCol),
			Category:    field(row, categoryCol),
		})
	}
	if len(out) == 0 {
		return nil, &ParseError{Source: source, Msg: "no questions"}
	}
	return out, nil
}

// column returns the index of the first header matching an alias, in
// alias priority order.
func column(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				return i
			}
		}
	}
	return -1
}

func field(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func parseQA(data []byte, source string) ([]models.Question, error) {
	var out []models.Question
	var cur models.Question
	var haveQ, haveA bool

	flush := func() {
		if haveQ && haveA && cur.Prompt != "" {
			cur.Index = len(out)
			out = append(out, cur)
		}
		cur = models.Question{}
		haveQ, haveA = false, false
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "q", "question":
			flush()
			cur.Prompt = value
			haveQ = true
		case "a", "answer":
			cur.GroundTruth = value
			haveA = true
		case "type", "category", "memory type":
			cur.Category = value
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Source: source, Msg: "scan", Err: err}
	}
	flush()
	if len(out) == 0 {
		return nil, &ParseError{Source: source, Msg: "no Q:/A: pairs"}
	}
	return out, nil
}
