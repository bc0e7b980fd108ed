package ddpreprocess

import "github.com/Divergent-Discourses/dd-custom-preprocess/core"

// Inner exposes the underlying core.Runner for advanced use (e.g., direct
// registry access in tests).  Prefer the high-level API for normal usage.
func (p *Preprocessor) Inner() *core.Runner { return p.inner }
