// Package qbank extracts multiple-choice questions from an uploaded text
// question bank.
//
// Recognized layout, one item per line:
//
//	Q1: What is ...?          (also "Question 1.", "1." or "1)")
//	A. first option           (A-D, followed by ".", ")" or ":")
//	B) second option
//	Answer: B                 (optional; defaults to A)
//
// Unmarked lines continue the question, or the last option once options
// have started. Questions with fewer than two options are dropped, and
// repeats (same first 100 characters, case-insensitive) are kept once.
package qbank

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cbt/internal/course"
)

const (
	maxOptions = 4
	dedupeLen  = 100
)

var (
	questionRE = regexp.MustCompile(`^(?i:q(?:uestion)?\s*\d*\s*[:.)]|\d+\s*[.)])\s*(.*)$`)
	optionRE   = regexp.MustCompile(`^([A-Da-d])\s*[.):]\s*(.+)$`)
	answerRE   = regexp.MustCompile(`^(?i:answer|ans|correct(?:\s+answer)?)\s*[:.\-]?\s*\(?([A-Da-d])\)?\b`)
)

var (
	ErrBinary      = errors.New("upload is not a text question bank; export the document as plain text")
	ErrNoQuestions = errors.New("no questions could be extracted from the upload")
)

type draft struct {
	text    string
	options []string
	correct int
}

// Parse reads r and returns the questions in document order with
// positions 0..n-1.
func Parse(r io.Reader) ([]course.KeyedQuestion, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(512); looksBinary(head) {
		return nil, ErrBinary
	}

	var (
		out  []course.KeyedQuestion
		seen = map[string]struct{}{}
		cur  *draft
	)
	flush := func() {
		if cur == nil {
			return
		}
		d := cur
		cur = nil
		text := strings.TrimSpace(d.text)
		if text == "" || len(d.options) < 2 {
			return
		}
		key := strings.ToLower(text)
		if len(key) > dedupeLen {
			key = key[:dedupeLen]
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		if d.correct >= len(d.options) {
			d.correct = 0
		}
		out = append(out, course.KeyedQuestion{
			Question: course.Question{
				ID:       uuid.NewString(),
				Text:     text,
				Options:  d.options,
				Position: len(out),
			},
			CorrectAnswer: d.correct,
		})
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := answerRE.FindStringSubmatch(line); m != nil && cur != nil {
			cur.correct = letterIndex(m[1])
			continue
		}
		if m := optionRE.FindStringSubmatch(line); m != nil && cur != nil {
			if len(cur.options) < maxOptions {
				cur.options = append(cur.options, strings.TrimSpace(m[2]))
			}
			continue
		}
		if m := questionRE.FindStringSubmatch(line); m != nil {
			flush()
			cur = &draft{text: m[1]}
			continue
		}
		if cur == nil {
			continue
		}
		if n := len(cur.options); n > 0 {
			cur.options[n-1] += " " + line
		} else {
			cur.text += " " + line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	if len(out) == 0 {
		return nil, ErrNoQuestions
	}
	return out, nil
}

func letterIndex(s string) int {
	return int(strings.ToUpper(s)[0] - 'A')
}

// looksBinary reports whether head looks like a binary document (PDF,
// office zip, or anything with NUL bytes).
func looksBinary(head []byte) bool {
	if bytes.HasPrefix(head, []byte("%PDF-")) || bytes.HasPrefix(head, []byte("PK\x03\x04")) {
		return true
	}
	return bytes.IndexByte(head, 0) >= 0
}
