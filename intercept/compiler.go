package intercept

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Compiler caches compiled KeyExpressions by source text so a hot method's
// decorator doesn't re-parse its key expression on every invocation. Bounded
// by an LRU since a process may accumulate many distinct expressions over
// its lifetime (generated keys, test fixtures) but only ever evaluates a
// small working set at once.
type Compiler struct {
	cache *lru.Cache[string, *KeyExpression]
}

// NewCompiler builds a Compiler with room for size distinct expressions.
func NewCompiler(size int) *Compiler {
	c, _ := lru.New[string, *KeyExpression](size) // size <= 0 is the only failure mode
	return &Compiler{cache: c}
}

// Compile returns expr's compiled form, parsing and caching it on first use.
func (c *Compiler) Compile(expr string) (*KeyExpression, error) {
	if compiled, ok := c.cache.Get(expr); ok {
		return compiled, nil
	}
	compiled, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	c.cache.Add(expr, compiled)
	return compiled, nil
}
