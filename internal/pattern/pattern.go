// Package pattern compiles the WAF's string-matching pattern language.
//
// The language is a small subset of Lua patterns: anchors ^ and $, literal
// characters, the class alphabet %a %d %s %w (and their uppercase
// complements), quantifiers * + ?, bracket classes [...] and [^...], and
// literal escaping via % for - . + ? ( ) and % itself. Patterns compile to
// Go regexps once, at cache-swap time; a pattern that fails to compile is
// skipped, never fatal.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dobrevit/formwaf/internal/werrors"
)

// Pattern is a compiled pattern.
type Pattern struct {
	Source string
	re     *regexp.Regexp
}

// Match reports whether s contains a match of the pattern. Unanchored
// patterns match anywhere in s, like Lua's string.find.
func (p *Pattern) Match(s string) bool {
	return p.re.MatchString(s)
}

// classExpansions maps the %x class alphabet to regexp character classes.
var classExpansions = map[byte]string{
	'a': "[A-Za-z]",
	'A': "[^A-Za-z]",
	'd': "[0-9]",
	'D': "[^0-9]",
	's': "[ \\t\\n\\r\\f\\v]",
	'S': "[^ \\t\\n\\r\\f\\v]",
	'w': "[A-Za-z0-9]",
	'W': "[^A-Za-z0-9]",
}

// bracketClassExpansions are the same classes usable inside [...].
var bracketClassExpansions = map[byte]string{
	'a': "A-Za-z",
	'd': "0-9",
	's': " \\t\\n\\r\\f\\v",
	'w': "A-Za-z0-9",
}

// escapable is the set of characters % may escape to a literal.
const escapable = "-.+?()%*[]^$"

// regexpMeta are regexp metacharacters that are literals in the pattern
// language and must be escaped on translation.
const regexpMeta = `\{}|`

// Compile translates a pattern into a Go regexp. Errors carry
// ErrCodePatternCompile; callers log and skip the containing rule.
func Compile(src string) (*Pattern, error) {
	var b strings.Builder
	i := 0
	n := len(src)

	if strings.HasPrefix(src, "^") {
		b.WriteByte('^')
		i++
	}

	for i < n {
		c := src[i]
		switch {
		case c == '$' && i == n-1:
			b.WriteByte('$')
			i++
		case c == '%':
			if i+1 >= n {
				return nil, werrors.PatternCompile(src, fmt.Errorf("trailing %% at position %d", i))
			}
			next := src[i+1]
			if expansion, ok := classExpansions[next]; ok {
				b.WriteString(expansion)
			} else if strings.IndexByte(escapable, next) >= 0 {
				b.WriteString(regexp.QuoteMeta(string(next)))
			} else {
				return nil, werrors.PatternCompile(src, fmt.Errorf("unknown escape %%%c at position %d", next, i))
			}
			i += 2
		case c == '[':
			cls, consumed, err := translateBracketClass(src[i:])
			if err != nil {
				return nil, werrors.PatternCompile(src, err)
			}
			b.WriteString(cls)
			i += consumed
		case c == '*' || c == '+' || c == '?':
			b.WriteByte(c)
			i++
		case c == '.':
			b.WriteByte('.')
			i++
		case strings.IndexByte(regexpMeta, c) >= 0 || c == '^' || c == '$' || c == '(' || c == ')' || c == ']':
			// Literal in the pattern language, meta in regexp.
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, werrors.PatternCompile(src, err)
	}
	return &Pattern{Source: src, re: re}, nil
}

// translateBracketClass translates a [...] or [^...] class starting at
// src[0] == '['. Returns the regexp form and the number of source bytes
// consumed.
func translateBracketClass(src string) (string, int, error) {
	var b strings.Builder
	b.WriteByte('[')
	i := 1
	if i < len(src) && src[i] == '^' {
		b.WriteByte('^')
		i++
	}
	for i < len(src) {
		c := src[i]
		switch c {
		case ']':
			b.WriteByte(']')
			return b.String(), i + 1, nil
		case '%':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("trailing %% inside class")
			}
			next := src[i+1]
			if expansion, ok := bracketClassExpansions[next]; ok {
				b.WriteString(expansion)
			} else if strings.IndexByte(escapable, next) >= 0 {
				if next == '-' || next == ']' || next == '^' || next == '\\' {
					b.WriteByte('\\')
				}
				b.WriteByte(next)
			} else {
				return "", 0, fmt.Errorf("unknown escape %%%c inside class", next)
			}
			i += 2
		case '\\':
			b.WriteString(`\\`)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated character class")
}

// Cache is a compiled-pattern LRU shared by the signature merger and the
// defense nodes. Compilation failures are cached too so a bad pattern is
// logged once, not per request.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	p   *Pattern
	err error
}

// NewCache creates a pattern cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	l, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get compiles src, consulting the cache first.
func (c *Cache) Get(src string) (*Pattern, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Get(src); ok {
		return e.p, e.err
	}
	p, err := Compile(src)
	c.lru.Add(src, cacheEntry{p: p, err: err})
	return p, err
}
