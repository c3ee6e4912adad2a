package condition

// Expr is a node in the parsed condition tree.
type Expr interface {
	exprNode()
}

// Literal is a number, string, or boolean constant.
type Literal struct {
	Value any
}

// FieldRef references one of the scalar context fields: event_type,
// severity, source, or tags.
type FieldRef struct {
	Name string
}

// DataRef references a path into the event data object (data.a.b).
type DataRef struct {
	Path []string
}

// WindowCount references windows["name"].count().
type WindowCount struct {
	Window string
}

// MetricRef references metrics["name"].
type MetricRef struct {
	Name string
}

// Unary is "not x" or "-x".
type Unary struct {
	Op string
	X  Expr
}

// Binary is a comparison, logical, membership, or arithmetic operation.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Tuple is a parenthesized value list, the right-hand side of "in".
type Tuple struct {
	Elems []Expr
}

func (*Literal) exprNode()     {}
func (*FieldRef) exprNode()    {}
func (*DataRef) exprNode()     {}
func (*WindowCount) exprNode() {}
func (*MetricRef) exprNode()   {}
func (*Unary) exprNode()       {}
func (*Binary) exprNode()      {}
func (*Tuple) exprNode()       {}

// Windows returns the distinct window names the expression references, so
// registries can verify they exist before accepting a rule.
func Windows(expr Expr) []string {
	seen := map[string]bool{}
	var out []string

	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *WindowCount:
			if !seen[n.Window] {
				seen[n.Window] = true
				out = append(out, n.Window)
			}
		case *Unary:
			walk(n.X)
		case *Binary:
			walk(n.Left)
			walk(n.Right)
		case *Tuple:
			for _, el := range n.Elems {
				walk(el)
			}
		}
	}

	walk(expr)
	return out
}
