package protocol

// LexemeKind identifies what a lexeme is in the line grammar
type LexemeKind uint8

const (
	// LexPrefix is the sender prefix that introduces a line (":nick!user@host")
	LexPrefix LexemeKind = iota
	// LexWord is a space-delimited middle token (command name or parameter)
	LexWord
	// LexTrailing is the final parameter, introduced by ':' and allowed to contain spaces
	LexTrailing
)

func (k LexemeKind) String() string {
	switch k {
	case LexPrefix:
		return "prefix"
	case LexWord:
		return "word"
	case LexTrailing:
		return "trailing"
	default:
		return "unknown"
	}
}

// Lexeme is a single token of a protocol line. Text never includes the
// introducing ':' of a prefix or trailing token.
type Lexeme struct {
	Kind LexemeKind
	Text string
}

// Lex splits one already-delimited line (terminator stripped) into lexemes.
//
// Grammar:
//
//	line     = [ ":" prefix SPACE ] *( word SPACE ) [ ":" trailing ]
//	SPACE    = 1*%x20
//
// An empty line yields no lexemes. A trailing lexeme swallows everything after
// its colon, embedded and repeated spaces included.
func Lex(line []byte) []Lexeme {
	if len(line) == 0 {
		return nil
	}

	lexemes := make([]Lexeme, 0, 4)
	i := 0

	if line[0] == ':' {
		end := indexSpace(line, 1)
		lexemes = append(lexemes, Lexeme{Kind: LexPrefix, Text: string(line[1:end])})
		i = end
	}

	for i < len(line) {
		// Skip the run of separators
		for i < len(line) && line[i] == ' ' {
			i++
		}
		if i >= len(line) {
			break
		}

		if line[i] == ':' {
			lexemes = append(lexemes, Lexeme{Kind: LexTrailing, Text: string(line[i+1:])})
			break
		}

		end := indexSpace(line, i)
		lexemes = append(lexemes, Lexeme{Kind: LexWord, Text: string(line[i:end])})
		i = end
	}

	return lexemes
}

// indexSpace returns the index of the first space at or after from, or len(b).
func indexSpace(b []byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == ' ' {
			return i
		}
	}
	return len(b)
}
