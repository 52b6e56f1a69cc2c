package parser

// Inspect traverses expr in depth-first order, calling fn for each node. If fn
// returns false, the children of that node are skipped. Subqueries are not
// entered; use Subqueries to reach them.
func Inspect(expr Expr, fn func(Expr) bool) {
	if expr == nil || !fn(expr) {
		return
	}

	switch e := expr.(type) {
	case *BinaryExpr:
		Inspect(e.Left, fn)
		Inspect(e.Right, fn)
	case *UnaryExpr:
		Inspect(e.Expr, fn)
	case *FuncCall:
		for _, arg := range e.Args {
			Inspect(arg, fn)
		}
		Inspect(e.Filter, fn)
		for _, o := range e.WithinGroup {
			Inspect(o.Expr, fn)
		}
		if e.Window != nil {
			inspectWindow(e.Window, fn)
		}
	case *CaseExpr:
		Inspect(e.Operand, fn)
		for _, w := range e.Whens {
			Inspect(w.Condition, fn)
			Inspect(w.Result, fn)
		}
		Inspect(e.Else, fn)
	case *CastExpr:
		Inspect(e.Expr, fn)
	case *InExpr:
		Inspect(e.Expr, fn)
		for _, v := range e.Values {
			Inspect(v, fn)
		}
	case *BetweenExpr:
		Inspect(e.Expr, fn)
		Inspect(e.Low, fn)
		Inspect(e.High, fn)
	case *IsNullExpr:
		Inspect(e.Expr, fn)
	case *IsBoolExpr:
		Inspect(e.Expr, fn)
	case *LikeExpr:
		Inspect(e.Expr, fn)
		Inspect(e.Pattern, fn)
		Inspect(e.Escape, fn)
	case *ParenExpr:
		Inspect(e.Expr, fn)
	case *TupleExpr:
		for _, item := range e.Items {
			Inspect(item, fn)
		}
	case *IntervalExpr:
		Inspect(e.Value, fn)
	case *IndexExpr:
		Inspect(e.Expr, fn)
		Inspect(e.Index, fn)
	}
}

func inspectWindow(w *WindowSpec, fn func(Expr) bool) {
	for _, e := range w.PartitionBy {
		Inspect(e, fn)
	}
	for _, o := range w.OrderBy {
		Inspect(o.Expr, fn)
	}
	if w.Frame != nil {
		for _, b := range []*FrameBound{w.Frame.Start, w.Frame.End} {
			if b != nil {
				Inspect(b.Offset, fn)
			}
		}
	}
}

// ColumnRefs returns every column reference in expr, outside subqueries, in
// source order.
func ColumnRefs(expr Expr) []*ColumnRef {
	var refs []*ColumnRef
	Inspect(expr, func(e Expr) bool {
		if ref, ok := e.(*ColumnRef); ok {
			refs = append(refs, ref)
		}
		return true
	})
	return refs
}

// Subqueries returns the queries nested directly in expr (scalar subqueries,
// EXISTS and IN (SELECT ...)).
func Subqueries(expr Expr) []*SelectStmt {
	var subs []*SelectStmt
	Inspect(expr, func(e Expr) bool {
		switch s := e.(type) {
		case *SubqueryExpr:
			subs = append(subs, s.Select)
		case *ExistsExpr:
			subs = append(subs, s.Select)
		case *InExpr:
			if s.Query != nil {
				subs = append(subs, s.Query)
			}
		}
		return true
	})
	return subs
}

// NamedWindows returns the named window references used by expr.
func NamedWindows(expr Expr) []string {
	var names []string
	Inspect(expr, func(e Expr) bool {
		if fn, ok := e.(*FuncCall); ok && fn.Window != nil && fn.Window.Name != "" {
			names = append(names, fn.Window.Name)
		}
		return true
	})
	return names
}

// InspectWindow calls Inspect for every expression of a window specification.
func InspectWindow(w *WindowSpec, fn func(Expr) bool) {
	if w != nil {
		inspectWindow(w, fn)
	}
}
