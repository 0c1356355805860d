// Package marker implements the side-channel protocol that carries formula
// positions across the external structural parser: unique textual tokens
// injected into a working copy of the PDF, preserved verbatim by the parser,
// and replaced exactly once downstream.
package marker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Contract pins down the marker token format. The alphabet is restricted to
// uppercase letters, digits, '#' and '-': no underscores or asterisks that
// trigger markdown emphasis, nothing a structural parser normalizes away.
// If the external parser is swapped, these assumptions must be re-verified.
type Contract struct {
	Prefix  string
	Suffix  string
	IDWidth int
}

// DefaultContract returns the token format used by the pipeline:
// ##FORMULA-0001##.
func DefaultContract() Contract {
	return Contract{Prefix: "##FORMULA-", Suffix: "##", IDWidth: 4}
}

// Format renders the token for a candidate id. Ids are zero-padded so token
// length is stable and lexical order matches numeric order.
func (c Contract) Format(id int) string {
	return fmt.Sprintf("%s%0*d%s", c.Prefix, c.IDWidth, id, c.Suffix)
}

// Pattern returns a regexp matching any token of this contract, including
// ids wider than IDWidth.
func (c Contract) Pattern() *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(c.Prefix) + `\d+` + regexp.QuoteMeta(c.Suffix))
}

// FindAll returns every token occurrence in text, in order of appearance,
// duplicates included.
func (c Contract) FindAll(text string) []string {
	return c.Pattern().FindAllString(text, -1)
}

// ParseID extracts the candidate id from a token.
func (c Contract) ParseID(token string) (int, bool) {
	if !strings.HasPrefix(token, c.Prefix) || !strings.HasSuffix(token, c.Suffix) {
		return 0, false
	}
	digits := token[len(c.Prefix) : len(token)-len(c.Suffix)]
	id, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Counter issues monotonic candidate ids. It is an explicit object passed
// through the pipeline call chain, never ambient process state, so that
// concurrent multi-document processing stays safe. Ids are globally unique
// per document, not per page.
type Counter struct {
	mu   sync.Mutex
	next int
}

// NewCounter returns a counter starting at the given id.
func NewCounter(start int) *Counter {
	return &Counter{next: start}
}

// Next returns the next id.
func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	return id
}
