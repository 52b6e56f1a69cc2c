package parser

import (
	"fmt"

	"github.com/leapstack-labs/metalineage/pkg/token"
)

// Window parsing: OVER clauses, named windows, frames.
//
// Grammar:
//
//	over_clause  → identifier | "(" window_spec ")"
//	window_spec  → [identifier] [PARTITION BY expr_list] [ORDER BY order_list] [frame_spec]
//	frame_spec   → (ROWS|RANGE|GROUPS) (frame_bound | BETWEEN frame_bound AND frame_bound)
//	frame_bound  → UNBOUNDED (PRECEDING|FOLLOWING) | CURRENT ROW | expr (PRECEDING|FOLLOWING)
//	window_list  → identifier AS "(" window_spec ")" ("," identifier AS "(" window_spec ")")*

// parseOverClause parses the window reference after OVER.
func (p *Parser) parseOverClause() *WindowSpec {
	if !p.check(token.LPAREN) {
		name, _ := p.parseIdent()
		return &WindowSpec{Name: name}
	}

	p.expect(token.LPAREN)
	spec := p.parseWindowSpec()
	p.expect(token.RPAREN)
	return spec
}

// parseWindowSpec parses the body of a window specification.
func (p *Parser) parseWindowSpec() *WindowSpec {
	spec := &WindowSpec{}

	// Base window name: OVER (w ORDER BY x)
	if p.check(token.IDENT) {
		spec.Name, _ = p.parseIdent()
	}

	if p.check(token.PARTITION) {
		p.nextToken()
		p.expect(token.BY)
		spec.PartitionBy = p.parseExprList()
	}

	if p.check(token.ORDER) {
		p.nextToken()
		p.expect(token.BY)
		spec.OrderBy = p.parseOrderByList()
	}

	if p.check(token.ROWS) || p.check(token.RANGE) || p.check(token.GROUPS) {
		spec.Frame = p.parseFrameSpec()
	}
	return spec
}

// parseFrameSpec parses ROWS/RANGE/GROUPS frames.
func (p *Parser) parseFrameSpec() *FrameSpec {
	frame := &FrameSpec{Unit: p.token.Type.String()}
	p.nextToken()

	if p.match(token.BETWEEN) {
		frame.Start = p.parseFrameBound()
		p.expect(token.AND)
		frame.End = p.parseFrameBound()
	} else {
		frame.Start = p.parseFrameBound()
	}

	// EXCLUDE CURRENT ROW | GROUP | TIES | NO OTHERS
	if p.matchWord("exclude") {
		for !p.failed() && !p.check(token.RPAREN) && !p.check(token.EOF) {
			p.nextToken()
		}
	}
	return frame
}

// parseFrameBound parses a single frame boundary.
func (p *Parser) parseFrameBound() *FrameBound {
	switch {
	case p.match(token.UNBOUNDED):
		if p.match(token.PRECEDING) {
			return &FrameBound{Kind: "UNBOUNDED PRECEDING"}
		}
		p.expect(token.FOLLOWING)
		return &FrameBound{Kind: "UNBOUNDED FOLLOWING"}

	case p.match(token.CURRENT):
		p.expect(token.ROW)
		return &FrameBound{Kind: "CURRENT ROW"}
	}

	bound := &FrameBound{Offset: p.parseExprPrec(precedenceAddition)}
	switch {
	case p.match(token.PRECEDING):
		bound.Kind = "PRECEDING"
	case p.match(token.FOLLOWING):
		bound.Kind = "FOLLOWING"
	default:
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "PRECEDING or FOLLOWING"))
	}
	return bound
}

// parseWindowDefs parses the named windows of a WINDOW clause.
func (p *Parser) parseWindowDefs() []*WindowDef {
	var defs []*WindowDef
	for !p.failed() {
		def := &WindowDef{}
		def.Name, _ = p.parseIdent()
		p.expect(token.AS)
		p.expect(token.LPAREN)
		def.Spec = p.parseWindowSpec()
		p.expect(token.RPAREN)
		defs = append(defs, def)

		if !p.match(token.COMMA) {
			break
		}
	}
	return defs
}
