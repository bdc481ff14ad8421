// pkg/sql/parser/parser.go
package parser

import (
	"strconv"
	"strings"

	"github.com/hamzaexact/sqlens/pkg/sql/lexer"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// precedence levels, lowest to highest, per the expression grammar.
const (
	LOWEST int = iota
	PREC_OR
	PREC_AND
	PREC_NOT
	PREC_COMPARISON
	PREC_BETWEEN // BETWEEN / IN / LIKE / ILIKE / IS [NOT] NULL
	PREC_ADDITIVE
	PREC_MULTIPLICATIVE
	PREC_UNARY
	PREC_PRIMARY
)

var precedences = map[lexer.TokenType]int{
	lexer.OR:      PREC_OR,
	lexer.AND:     PREC_AND,
	lexer.EQ:      PREC_COMPARISON,
	lexer.NEQ:     PREC_COMPARISON,
	lexer.LT:      PREC_COMPARISON,
	lexer.LTE:     PREC_COMPARISON,
	lexer.GT:      PREC_COMPARISON,
	lexer.GTE:     PREC_COMPARISON,
	lexer.BETWEEN: PREC_BETWEEN,
	lexer.IN:      PREC_BETWEEN,
	lexer.LIKE:    PREC_BETWEEN,
	lexer.ILIKE:   PREC_BETWEEN,
	lexer.IS:      PREC_BETWEEN,
	lexer.NOT:     PREC_BETWEEN, // NOT BETWEEN / NOT IN / NOT LIKE lookahead
	lexer.PLUS:    PREC_ADDITIVE,
	lexer.MINUS:   PREC_ADDITIVE,
	lexer.STAR:    PREC_MULTIPLICATIVE,
	lexer.SLASH:   PREC_MULTIPLICATIVE,
	lexer.PERCENT: PREC_MULTIPLICATIVE,
}

// Parser is a recursive-descent SQL parser with one token of lookahead
// and Pratt-style precedence climbing for expressions.
type Parser struct {
	lexer *lexer.Lexer
	cur   lexer.Token
	peek  lexer.Token
}

// New creates a new Parser for the given SQL input.
func New(input string) *Parser {
	p := &Parser{lexer: lexer.New(input)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.cur = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) curIs(t lexer.TokenType) bool  { return p.cur.Type == t }
func (p *Parser) peekIs(t lexer.TokenType) bool { return p.peek.Type == t }

func (p *Parser) expectPeek(t lexer.TokenType) error {
	if p.peekIs(t) {
		p.nextToken()
		return nil
	}
	return sqlerr.SyntaxAt(p.peek.Pos, "expected %s, got %s (%q)", t, p.peek.Type, p.peek.Literal)
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peek.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.cur.Type]; ok {
		return pr
	}
	return LOWEST
}

// ParseStatements parses a `;`-separated batch and returns one
// Statement per non-empty segment. A syntax error aborts parsing and
// is returned with whatever statements parsed successfully so far.
func (p *Parser) ParseStatements() ([]Statement, error) {
	var stmts []Statement
	for !p.curIs(lexer.EOF) {
		if p.curIs(lexer.SEMICOLON) {
			p.nextToken()
			continue
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return stmts, err
		}
		stmts = append(stmts, stmt)
		if p.curIs(lexer.SEMICOLON) {
			p.nextToken()
		}
	}
	return stmts, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	if p.cur.Type == lexer.ILLEGAL {
		return nil, sqlerr.LexicalAt(p.cur.Pos, "%s", p.cur.Literal)
	}
	switch p.cur.Type {
	case lexer.CREATE:
		return p.parseCreate()
	case lexer.DROP:
		return p.parseDrop()
	case lexer.ALTER:
		return p.parseAlterTable()
	case lexer.USE:
		return p.parseUse()
	case lexer.INSERT:
		return p.parseInsert()
	case lexer.UPDATE:
		return p.parseUpdate()
	case lexer.DELETE:
		return p.parseDelete()
	case lexer.REFRESH:
		return p.parseRefreshMaterializedView()
	case lexer.SELECT, lexer.WITH:
		return p.parseSelect()
	default:
		return nil, sqlerr.SyntaxAt(p.cur.Pos, "unexpected token %s (%q) at start of statement", p.cur.Type, p.cur.Literal)
	}
}

// ---- DDL: database ----

func (p *Parser) parseCreate() (Statement, error) {
	switch p.peek.Type {
	case lexer.DATABASE:
		p.nextToken()
		return p.parseCreateDatabase()
	case lexer.TABLE:
		p.nextToken()
		return p.parseCreateTable()
	case lexer.VIEW:
		p.nextToken()
		return p.parseCreateView(false)
	case lexer.MATERIALIZED:
		p.nextToken()
		if err := p.expectPeek(lexer.VIEW); err != nil {
			return nil, err
		}
		return p.parseCreateView(true)
	}
	return nil, sqlerr.SyntaxAt(p.peek.Pos, "expected DATABASE, TABLE, VIEW or MATERIALIZED after CREATE, got %s", p.peek.Type)
}

func (p *Parser) parseIfNotExists() (bool, error) {
	if p.peekIs(lexer.IF) {
		p.nextToken()
		if err := p.expectPeek(lexer.NOT); err != nil {
			return false, err
		}
		if err := p.expectPeek(lexer.EXISTS); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (p *Parser) parseIfExists() (bool, error) {
	if p.peekIs(lexer.IF) {
		p.nextToken()
		if err := p.expectPeek(lexer.EXISTS); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (p *Parser) parseCreateDatabase() (Statement, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	return &CreateDatabaseStmt{Name: p.cur.Literal, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	switch p.peek.Type {
	case lexer.DATABASE:
		p.nextToken()
		ifExists, err := p.parseIfExists()
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		return &DropDatabaseStmt{Name: p.cur.Literal, IfExists: ifExists}, nil
	case lexer.TABLE:
		p.nextToken()
		ifExists, err := p.parseIfExists()
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		return &DropTableStmt{TableName: p.cur.Literal, IfExists: ifExists}, nil
	case lexer.VIEW:
		p.nextToken()
		ifExists, err := p.parseIfExists()
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		return &DropViewStmt{Name: p.cur.Literal, IfExists: ifExists}, nil
	}
	return nil, sqlerr.SyntaxAt(p.peek.Pos, "expected DATABASE, TABLE or VIEW after DROP, got %s", p.peek.Type)
}

func (p *Parser) parseUse() (Statement, error) {
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	return &UseStmt{Name: p.cur.Literal}, nil
}

// ---- DDL: table ----

func (p *Parser) parseColumnType() (types.ColumnType, error) {
	var kind types.ColKind
	switch p.cur.Type {
	case lexer.INT_TYPE:
		kind = types.ColInt
	case lexer.FLOAT_TYPE:
		kind = types.ColFloat
	case lexer.BOOLEAN_TYPE:
		kind = types.ColBoolean
	case lexer.VARCHAR_TYPE:
		kind = types.ColVarchar
	case lexer.CHAR_TYPE:
		kind = types.ColChar
	case lexer.TEXT_TYPE:
		kind = types.ColText
	case lexer.DATE_TYPE:
		kind = types.ColDate
	case lexer.TIME_TYPE:
		kind = types.ColTime
	case lexer.TIMESTAMP_TYPE:
		kind = types.ColTimestamp
	case lexer.SERIAL_TYPE:
		kind = types.ColSerial
	default:
		return types.ColumnType{}, sqlerr.SyntaxAt(p.cur.Pos, "expected a column type, got %s", p.cur.Type)
	}
	ct := types.ColumnType{Kind: kind}
	if (kind == types.ColVarchar || kind == types.ColChar) && p.peekIs(lexer.LPAREN) {
		p.nextToken()
		if err := p.expectPeek(lexer.INT); err != nil {
			return ct, err
		}
		n, err := strconv.Atoi(p.cur.Literal)
		if err != nil {
			return ct, sqlerr.SyntaxAt(p.cur.Pos, "invalid length %q", p.cur.Literal)
		}
		ct.Length = n
		if err := p.expectPeek(lexer.RPAREN); err != nil {
			return ct, err
		}
	}
	return ct, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	if !p.curIs(lexer.IDENT) {
		return ColumnDef{}, sqlerr.SyntaxAt(p.cur.Pos, "expected column name, got %s", p.cur.Type)
	}
	col := ColumnDef{Name: p.cur.Literal}
	p.nextToken()
	ct, err := p.parseColumnType()
	if err != nil {
		return col, err
	}
	col.Type = ct
	if ct.Kind == types.ColSerial {
		col.NotNull = true
	}

	for {
		switch p.peek.Type {
		case lexer.NOT:
			p.nextToken()
			if err := p.expectPeek(lexer.NULL_KW); err != nil {
				return col, err
			}
			col.NotNull = true
		case lexer.PRIMARY:
			p.nextToken()
			if err := p.expectPeek(lexer.KEY); err != nil {
				return col, err
			}
			col.PrimaryKey = true
			col.NotNull = true
		case lexer.UNIQUE:
			p.nextToken()
			col.Unique = true
		case lexer.CHECK:
			p.nextToken()
			if err := p.expectPeek(lexer.LPAREN); err != nil {
				return col, err
			}
			p.nextToken()
			expr, err := p.parseExpression(LOWEST)
			if err != nil {
				return col, err
			}
			col.Check = expr
			if err := p.expectPeek(lexer.RPAREN); err != nil {
				return col, err
			}
		case lexer.DEFAULT:
			p.nextToken()
			p.nextToken()
			expr, err := p.parseExpression(PREC_UNARY)
			if err != nil {
				return col, err
			}
			col.Default = expr
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseCreateTable() (Statement, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	stmt := &CreateTableStmt{TableName: p.cur.Literal, IfNotExists: ifNotExists}
	if err := p.expectPeek(lexer.LPAREN); err != nil {
		return nil, err
	}
	p.nextToken()
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.peekIs(lexer.COMMA) {
			p.nextToken()
			p.nextToken()
			continue
		}
		break
	}
	if err := p.expectPeek(lexer.RPAREN); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseAlterTable() (Statement, error) {
	if err := p.expectPeek(lexer.TABLE); err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	stmt := &AlterTableStmt{TableName: p.cur.Literal}

	switch p.peek.Type {
	case lexer.ADD:
		p.nextToken()
		if p.peekIs(lexer.CONSTRAINT) {
			p.nextToken()
			action, err := p.parseAddConstraint()
			if err != nil {
				return nil, err
			}
			stmt.Action = action
			return stmt, nil
		}
		if p.peekIs(lexer.COLUMN) {
			p.nextToken()
		}
		p.nextToken()
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Action = AddColumnAction{Column: col}
		return stmt, nil
	case lexer.DROP:
		p.nextToken()
		if p.peekIs(lexer.CONSTRAINT) {
			p.nextToken()
			if err := p.expectPeek(lexer.IDENT); err != nil {
				return nil, err
			}
			stmt.Action = DropConstraintAction{Name: p.cur.Literal}
			return stmt, nil
		}
		if p.peekIs(lexer.COLUMN) {
			p.nextToken()
		}
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		stmt.Action = DropColumnAction{Name: p.cur.Literal}
		return stmt, nil
	case lexer.RENAME:
		p.nextToken()
		if err := p.expectPeek(lexer.TO); err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		stmt.Action = RenameTableAction{NewName: p.cur.Literal}
		return stmt, nil
	}
	return nil, sqlerr.SyntaxAt(p.peek.Pos, "expected ADD, DROP or RENAME after ALTER TABLE, got %s", p.peek.Type)
}

func (p *Parser) parseAddConstraint() (AlterAction, error) {
	var name string
	if p.peekIs(lexer.IDENT) {
		p.nextToken()
		name = p.cur.Literal
	}
	switch p.peek.Type {
	case lexer.PRIMARY:
		p.nextToken()
		if err := p.expectPeek(lexer.KEY); err != nil {
			return nil, err
		}
		cols, err := p.parseParenIdentList()
		if err != nil {
			return nil, err
		}
		return AddConstraintAction{Name: name, PrimaryKey: cols}, nil
	case lexer.UNIQUE:
		p.nextToken()
		cols, err := p.parseParenIdentList()
		if err != nil {
			return nil, err
		}
		return AddConstraintAction{Name: name, Unique: cols}, nil
	case lexer.CHECK:
		p.nextToken()
		if err := p.expectPeek(lexer.LPAREN); err != nil {
			return nil, err
		}
		p.nextToken()
		expr, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.RPAREN); err != nil {
			return nil, err
		}
		return AddConstraintAction{Name: name, Check: expr}, nil
	}
	return nil, sqlerr.SyntaxAt(p.peek.Pos, "expected PRIMARY KEY, UNIQUE or CHECK, got %s", p.peek.Type)
}

func (p *Parser) parseParenIdentList() ([]string, error) {
	if err := p.expectPeek(lexer.LPAREN); err != nil {
		return nil, err
	}
	var names []string
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	names = append(names, p.cur.Literal)
	for p.peekIs(lexer.COMMA) {
		p.nextToken()
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		names = append(names, p.cur.Literal)
	}
	if err := p.expectPeek(lexer.RPAREN); err != nil {
		return nil, err
	}
	return names, nil
}

// ---- DDL: view ----

func (p *Parser) parseCreateView(materialized bool) (Statement, error) {
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	name := p.cur.Literal
	if err := p.expectPeek(lexer.AS); err != nil {
		return nil, err
	}
	p.nextToken()
	sel, err := p.parseSelectBody()
	if err != nil {
		return nil, err
	}
	return &CreateViewStmt{Name: name, Materialized: materialized, Query: sel}, nil
}

func (p *Parser) parseRefreshMaterializedView() (Statement, error) {
	if err := p.expectPeek(lexer.MATERIALIZED); err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.VIEW); err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	return &RefreshMaterializedViewStmt{Name: p.cur.Literal}, nil
}

// ---- DML ----

func (p *Parser) parseExpressionList() ([]Expression, error) {
	var exprs []Expression
	expr, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	exprs = append(exprs, expr)
	for p.peekIs(lexer.COMMA) {
		p.nextToken()
		p.nextToken()
		expr, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	if err := p.expectPeek(lexer.INTO); err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	stmt := &InsertStmt{TableName: p.cur.Literal}

	if p.peekIs(lexer.LPAREN) {
		cols, err := p.parseParenIdentList()
		if err != nil {
			return nil, err
		}
		stmt.Columns = cols
	}

	if err := p.expectPeek(lexer.VALUES); err != nil {
		return nil, err
	}

	for {
		if err := p.expectPeek(lexer.LPAREN); err != nil {
			return nil, err
		}
		p.nextToken()
		row, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if err := p.expectPeek(lexer.RPAREN); err != nil {
			return nil, err
		}
		if p.peekIs(lexer.COMMA) {
			p.nextToken()
			continue
		}
		break
	}

	if p.peekIs(lexer.ON) {
		p.nextToken()
		if err := p.expectPeek(lexer.CONFLICT); err != nil {
			return nil, err
		}
		clause := &OnConflictClause{}
		if p.peekIs(lexer.LPAREN) {
			cols, err := p.parseParenIdentList()
			if err != nil {
				return nil, err
			}
			clause.Target = cols
		}
		if err := p.expectPeek(lexer.DO); err != nil {
			return nil, err
		}
		switch p.peek.Type {
		case lexer.NOTHING:
			p.nextToken()
			clause.DoNothing = true
		case lexer.UPDATE:
			p.nextToken()
			if err := p.expectPeek(lexer.SET); err != nil {
				return nil, err
			}
			assigns, err := p.parseAssignments()
			if err != nil {
				return nil, err
			}
			clause.DoUpdate = assigns
		default:
			return nil, sqlerr.SyntaxAt(p.peek.Pos, "expected NOTHING or UPDATE after DO, got %s", p.peek.Type)
		}
		stmt.OnConflict = clause
	}

	if p.peekIs(lexer.RETURNING) {
		p.nextToken()
		if err := p.expectPeek(lexer.STAR); err != nil {
			return nil, err
		}
		stmt.Returning = true
	}

	return stmt, nil
}

func (p *Parser) parseAssignments() ([]Assignment, error) {
	var assigns []Assignment
	for {
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		name := p.cur.Literal
		if err := p.expectPeek(lexer.EQ); err != nil {
			return nil, err
		}
		p.nextToken()
		val, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: name, Value: val})
		if p.peekIs(lexer.COMMA) {
			p.nextToken()
			continue
		}
		break
	}
	return assigns, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{TableName: p.cur.Literal}
	if err := p.expectPeek(lexer.SET); err != nil {
		return nil, err
	}
	assigns, err := p.parseAssignments()
	if err != nil {
		return nil, err
	}
	stmt.Set = assigns

	if p.peekIs(lexer.WHERE) {
		p.nextToken()
		p.nextToken()
		where, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	if p.peekIs(lexer.RETURNING) {
		p.nextToken()
		if err := p.expectPeek(lexer.STAR); err != nil {
			return nil, err
		}
		stmt.Returning = true
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	if err := p.expectPeek(lexer.FROM); err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.IDENT); err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{TableName: p.cur.Literal}
	if p.peekIs(lexer.WHERE) {
		p.nextToken()
		p.nextToken()
		where, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	if p.peekIs(lexer.RETURNING) {
		p.nextToken()
		if err := p.expectPeek(lexer.STAR); err != nil {
			return nil, err
		}
		stmt.Returning = true
	}
	return stmt, nil
}

// ---- SELECT ----

func (p *Parser) parseSelect() (Statement, error) {
	return p.parseSelectBody()
}

// parseSelectBody parses one `WITH? SELECT ...` plus any chained set
// operations, returning the head *SelectStmt with SetOpNext populated
// left-associatively.
func (p *Parser) parseSelectBody() (*SelectStmt, error) {
	var ctes []CTE
	if p.curIs(lexer.WITH) {
		p.nextToken()
		for {
			if !p.curIs(lexer.IDENT) {
				return nil, sqlerr.SyntaxAt(p.cur.Pos, "expected CTE name, got %s", p.cur.Type)
			}
			name := p.cur.Literal
			if err := p.expectPeek(lexer.AS); err != nil {
				return nil, err
			}
			if err := p.expectPeek(lexer.LPAREN); err != nil {
				return nil, err
			}
			p.nextToken()
			sub, err := p.parseSelectBody()
			if err != nil {
				return nil, err
			}
			if err := p.expectPeek(lexer.RPAREN); err != nil {
				return nil, err
			}
			ctes = append(ctes, CTE{Name: name, Query: sub})
			if p.peekIs(lexer.COMMA) {
				p.nextToken()
				p.nextToken()
				continue
			}
			break
		}
		if err := p.expectPeek(lexer.SELECT); err != nil {
			return nil, err
		}
	}
	if !p.curIs(lexer.SELECT) {
		return nil, sqlerr.SyntaxAt(p.cur.Pos, "expected SELECT, got %s", p.cur.Type)
	}

	stmt := &SelectStmt{With: ctes}

	if p.peekIs(lexer.DISTINCT) {
		p.nextToken()
		stmt.Distinct = true
	}
	p.nextToken()

	items, err := p.parseSelectItems()
	if err != nil {
		return nil, err
	}
	stmt.Columns = items

	if p.peekIs(lexer.FROM) {
		p.nextToken()
		p.nextToken()
		src, err := p.parseFromSource()
		if err != nil {
			return nil, err
		}
		stmt.From = src
	}

	if p.peekIs(lexer.WHERE) {
		p.nextToken()
		p.nextToken()
		where, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.peekIs(lexer.GROUP) {
		p.nextToken()
		if err := p.expectPeek(lexer.BY); err != nil {
			return nil, err
		}
		p.nextToken()
		exprs, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = exprs
	}

	if p.peekIs(lexer.HAVING) {
		p.nextToken()
		p.nextToken()
		having, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		stmt.Having = having
	}

	if p.peekIs(lexer.ORDER) {
		p.nextToken()
		if err := p.expectPeek(lexer.BY); err != nil {
			return nil, err
		}
		p.nextToken()
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = items
	}

	if p.peekIs(lexer.LIMIT) {
		p.nextToken()
		p.nextToken()
		lim, err := p.parseExpression(PREC_UNARY)
		if err != nil {
			return nil, err
		}
		stmt.Limit = lim
	}
	if p.peekIs(lexer.OFFSET) {
		p.nextToken()
		p.nextToken()
		off, err := p.parseExpression(PREC_UNARY)
		if err != nil {
			return nil, err
		}
		stmt.Offset = off
	}

	var setOp SetOpKind
	switch p.peek.Type {
	case lexer.UNION:
		p.nextToken()
		if p.peekIs(lexer.ALL) {
			p.nextToken()
			setOp = SetOpUnionAll
		} else {
			setOp = SetOpUnion
		}
	case lexer.INTERSECT:
		p.nextToken()
		setOp = SetOpIntersect
	case lexer.EXCEPT:
		p.nextToken()
		setOp = SetOpExcept
	}
	if setOp != SetOpNone {
		p.nextToken()
		next, err := p.parseSelectBody()
		if err != nil {
			return nil, err
		}
		stmt.SetOp = setOp
		stmt.SetOpNext = next
	}

	return stmt, nil
}

func (p *Parser) parseSelectItems() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.peekIs(lexer.COMMA) {
			p.nextToken()
			p.nextToken()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.curIs(lexer.STAR) {
		return SelectItem{Star: true}, nil
	}
	expr, err := p.parseExpression(LOWEST)
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: expr}
	if p.peekIs(lexer.AS) {
		p.nextToken()
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return item, err
		}
		item.Alias = p.cur.Literal
	} else if p.peekIs(lexer.IDENT) {
		p.nextToken()
		item.Alias = p.cur.Literal
	}
	return item, nil
}

func (p *Parser) parseFromSource() (*FromSource, error) {
	var src *FromSource
	if p.curIs(lexer.LPAREN) {
		p.nextToken()
		sub, err := p.parseSelectBody()
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.RPAREN); err != nil {
			return nil, err
		}
		src = &FromSource{Subquery: sub}
	} else if p.curIs(lexer.IDENT) {
		src = &FromSource{Name: p.cur.Literal}
	} else {
		return nil, sqlerr.SyntaxAt(p.cur.Pos, "expected a table name or subquery in FROM, got %s", p.cur.Type)
	}
	if p.peekIs(lexer.AS) {
		p.nextToken()
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		src.Alias = p.cur.Literal
	} else if p.peekIs(lexer.IDENT) {
		p.nextToken()
		src.Alias = p.cur.Literal
	}
	return src, nil
}

func (p *Parser) parseOrderByList() ([]OrderItem, error) {
	var items []OrderItem
	for {
		expr, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: expr}
		if p.peekIs(lexer.ASC) {
			p.nextToken()
		} else if p.peekIs(lexer.DESC) {
			p.nextToken()
			item.Desc = true
		}
		items = append(items, item)
		if p.peekIs(lexer.COMMA) {
			p.nextToken()
			p.nextToken()
			continue
		}
		break
	}
	return items, nil
}

// ---- Expressions (Pratt) ----

func (p *Parser) parseExpression(precedence int) (Expression, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for !p.peekIs(lexer.SEMICOLON) && precedence < p.peekPrecedence() {
		p.nextToken()
		left, err = p.parseInfix(left)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parsePrefix() (Expression, error) {
	switch p.cur.Type {
	case lexer.INT:
		n, err := strconv.ParseInt(p.cur.Literal, 10, 64)
		if err != nil {
			return nil, sqlerr.SyntaxAt(p.cur.Pos, "invalid integer literal %q", p.cur.Literal)
		}
		return &Literal{Value: types.NewInt(n)}, nil
	case lexer.FLOAT:
		f, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, sqlerr.SyntaxAt(p.cur.Pos, "invalid float literal %q", p.cur.Literal)
		}
		return &Literal{Value: types.NewFloat(f)}, nil
	case lexer.STRING:
		return &Literal{Value: types.NewString(p.cur.Literal)}, nil
	case lexer.TRUE_KW:
		return &Literal{Value: types.NewBool(true)}, nil
	case lexer.FALSE_KW:
		return &Literal{Value: types.NewBool(false)}, nil
	case lexer.NULL_KW:
		return &Literal{Value: types.NewNull()}, nil
	case lexer.STAR:
		return &Star{}, nil
	case lexer.MINUS:
		p.nextToken()
		right, err := p.parseExpression(PREC_UNARY)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: lexer.MINUS, Right: right}, nil
	case lexer.NOT:
		p.nextToken()
		right, err := p.parseExpression(PREC_NOT)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: lexer.NOT, Right: right}, nil
	case lexer.LPAREN:
		p.nextToken()
		if p.curIs(lexer.SELECT) || p.curIs(lexer.WITH) {
			sub, err := p.parseSelectBody()
			if err != nil {
				return nil, err
			}
			if err := p.expectPeek(lexer.RPAREN); err != nil {
				return nil, err
			}
			return &ScalarSubquery{Query: sub}, nil
		}
		expr, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	case lexer.CASE:
		return p.parseCase()
	case lexer.CAST:
		return p.parseCast()
	case lexer.COALESCE:
		return p.parseCoalesce()
	case lexer.NULLIF:
		return p.parseNullIf()
	case lexer.IDENT:
		return p.parseIdentOrCall()
	}
	return nil, sqlerr.SyntaxAt(p.cur.Pos, "unexpected token %s (%q) in expression", p.cur.Type, p.cur.Literal)
}

func (p *Parser) parseIdentOrCall() (Expression, error) {
	name := p.cur.Literal
	if p.peekIs(lexer.DOT) {
		p.nextToken()
		if err := p.expectPeek(lexer.IDENT); err != nil {
			return nil, err
		}
		return &ColumnRef{Table: name, Name: p.cur.Literal}, nil
	}
	if p.peekIs(lexer.LPAREN) {
		p.nextToken()
		return p.parseFunctionCall(name)
	}
	return &ColumnRef{Name: name}, nil
}

func (p *Parser) parseFunctionCall(name string) (Expression, error) {
	call := &FunctionCall{Name: strings.ToUpper(name)}
	if p.peekIs(lexer.RPAREN) {
		p.nextToken()
		return call, nil
	}
	p.nextToken()
	if p.curIs(lexer.STAR) && p.peekIs(lexer.RPAREN) {
		call.Star = true
		p.nextToken()
		return call, nil
	}
	if p.curIs(lexer.DISTINCT) {
		call.Distinct = true
		p.nextToken()
	}
	args, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}
	call.Args = args
	if err := p.expectPeek(lexer.RPAREN); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseCase() (Expression, error) {
	expr := &CaseExpr{}
	p.nextToken()
	if !p.curIs(lexer.WHEN) {
		operand, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		expr.Operand = operand
		p.nextToken()
	}
	for p.curIs(lexer.WHEN) {
		p.nextToken()
		when, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.THEN); err != nil {
			return nil, err
		}
		p.nextToken()
		then, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		expr.Whens = append(expr.Whens, WhenClause{When: when, Then: then})
		p.nextToken()
	}
	if p.curIs(lexer.ELSE_KW) {
		p.nextToken()
		elseExpr, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		expr.Else = elseExpr
		p.nextToken()
	}
	if !p.curIs(lexer.END) {
		return nil, sqlerr.SyntaxAt(p.cur.Pos, "expected END, got %s", p.cur.Type)
	}
	return expr, nil
}

func (p *Parser) parseCast() (Expression, error) {
	if err := p.expectPeek(lexer.LPAREN); err != nil {
		return nil, err
	}
	p.nextToken()
	inner, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.AS); err != nil {
		return nil, err
	}
	p.nextToken()
	ct, err := p.parseColumnType()
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.RPAREN); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: inner, Target: ct}, nil
}

func (p *Parser) parseCoalesce() (Expression, error) {
	if err := p.expectPeek(lexer.LPAREN); err != nil {
		return nil, err
	}
	p.nextToken()
	args, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.RPAREN); err != nil {
		return nil, err
	}
	return &CoalesceExpr{Args: args}, nil
}

func (p *Parser) parseNullIf() (Expression, error) {
	if err := p.expectPeek(lexer.LPAREN); err != nil {
		return nil, err
	}
	p.nextToken()
	a, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.COMMA); err != nil {
		return nil, err
	}
	p.nextToken()
	b, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.RPAREN); err != nil {
		return nil, err
	}
	return &NullIfExpr{A: a, B: b}, nil
}

func (p *Parser) parseInfix(left Expression) (Expression, error) {
	switch p.cur.Type {
	case lexer.AND, lexer.OR, lexer.PLUS, lexer.MINUS, lexer.STAR, lexer.SLASH, lexer.PERCENT,
		lexer.EQ, lexer.NEQ, lexer.LT, lexer.LTE, lexer.GT, lexer.GTE:
		op := p.cur.Type
		prec := p.curPrecedence()
		p.nextToken()
		right, err := p.parseExpression(prec)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: left, Op: op, Right: right}, nil
	case lexer.BETWEEN:
		return p.parseBetween(left, false)
	case lexer.IN:
		return p.parseIn(left, false)
	case lexer.LIKE:
		return p.parseLike(left, false, true)
	case lexer.ILIKE:
		return p.parseLike(left, false, false)
	case lexer.IS:
		return p.parseIsNull(left)
	case lexer.NOT:
		return p.parseNotModifier(left)
	}
	return nil, sqlerr.SyntaxAt(p.cur.Pos, "unexpected token %s in expression", p.cur.Type)
}

// parseNotModifier handles the NOT BETWEEN / NOT IN / NOT LIKE / NOT
// ILIKE lookahead: cur is NOT, peek names which predicate it negates.
func (p *Parser) parseNotModifier(left Expression) (Expression, error) {
	switch p.peek.Type {
	case lexer.BETWEEN:
		p.nextToken()
		return p.parseBetween(left, true)
	case lexer.IN:
		p.nextToken()
		return p.parseIn(left, true)
	case lexer.LIKE:
		p.nextToken()
		return p.parseLike(left, true, true)
	case lexer.ILIKE:
		p.nextToken()
		return p.parseLike(left, true, false)
	}
	return nil, sqlerr.SyntaxAt(p.peek.Pos, "expected BETWEEN, IN, LIKE or ILIKE after NOT, got %s", p.peek.Type)
}

// parseBetween parses "BETWEEN low AND high"; cur is the BETWEEN token.
// The lower bound is parsed at a precedence tight enough that the
// mandatory AND is never mistaken for a top-level logical AND.
func (p *Parser) parseBetween(left Expression, not bool) (Expression, error) {
	p.nextToken()
	low, err := p.parseExpression(PREC_BETWEEN)
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.AND); err != nil {
		return nil, err
	}
	p.nextToken()
	high, err := p.parseExpression(PREC_BETWEEN)
	if err != nil {
		return nil, err
	}
	return &Between{Expr: left, Low: low, High: high, Not: not}, nil
}

func (p *Parser) parseIn(left Expression, not bool) (Expression, error) {
	if err := p.expectPeek(lexer.LPAREN); err != nil {
		return nil, err
	}
	p.nextToken()
	if p.curIs(lexer.SELECT) || p.curIs(lexer.WITH) {
		sub, err := p.parseSelectBody()
		if err != nil {
			return nil, err
		}
		if err := p.expectPeek(lexer.RPAREN); err != nil {
			return nil, err
		}
		return &InSubquery{Expr: left, Query: sub, Not: not}, nil
	}
	list, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}
	if err := p.expectPeek(lexer.RPAREN); err != nil {
		return nil, err
	}
	return &InList{Expr: left, List: list, Not: not}, nil
}

func (p *Parser) parseLike(left Expression, not, caseSensitive bool) (Expression, error) {
	p.nextToken()
	pattern, err := p.parseExpression(PREC_BETWEEN)
	if err != nil {
		return nil, err
	}
	return &LikeExpr{Expr: left, Pattern: pattern, Not: not, CaseSensitive: caseSensitive}, nil
}

func (p *Parser) parseIsNull(left Expression) (Expression, error) {
	not := false
	if p.peekIs(lexer.NOT) {
		p.nextToken()
		not = true
	}
	if err := p.expectPeek(lexer.NULL_KW); err != nil {
		return nil, err
	}
	return &IsNullExpr{Expr: left, Not: not}, nil
}
