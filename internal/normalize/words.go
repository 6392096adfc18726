package normalize

// fillerPhrases is the default inventory of politeness, hesitation, and
// wake-word noise stripped before matching. Compiled longest-first so
// "can you help me to" wins over "can you".
var fillerPhrases = []string{
	// Polite multi-word prefixes.
	"can you help me to", "can you help me",
	"could you help me to", "could you help me",
	"would you help me to", "would you help me",
	"i would like to", "i'd like to", "i would like you to",
	"i want you to", "i want to", "i need you to", "i need to",
	"do me a favor and", "do me a favour and",
	"be kind enough to", "go ahead and",
	"can you please", "could you please", "would you please",
	"will you please", "can you just", "could you just",
	"can you", "could you", "would you", "will you",
	"i want", "i need",
	"please", "kindly",

	// Polite suffixes.
	"for me please", "for me", "right now", "now",
	"quickly", "fast", "immediately", "asap",
	"if you can", "if possible", "if you don't mind",
	"thanks", "thank you very much", "thank you",

	// Wake-word fragments the transcriber occasionally leaks through.
	"hey earshot", "hi earshot", "ok earshot", "okay earshot", "earshot",

	// Hesitation and glue.
	"just", "actually", "basically", "like", "maybe",
	"try to", "try and",
	"um", "uh", "hmm", "ah",
	"the", "a", "an",

	// Greeting noise.
	"hey", "hi", "hello", "yo", "ok", "okay",
}

// defaultVerbatimTriggers are the dictation verbs whose argument must be
// preserved exactly — "type please call me later" keeps its "please".
var defaultVerbatimTriggers = []string{"type", "write", "enter", "dictate"}

// defaultNumberContext are the tokens that put an adjacent number word into
// a numeric-slot context. "tab five" converts; "open one note" does not.
var defaultNumberContext = []string{
	"tab", "page", "line", "window", "workspace", "desktop", "monitor",
	"times", "number", "zoom", "volume",
}

var unitWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17,
	"eighteen": 18, "nineteen": 19,
}

var tensWords = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"eleventh": 11, "twelfth": 12, "thirteenth": 13, "fourteenth": 14,
	"fifteenth": 15, "sixteenth": 16, "seventeenth": 17, "eighteenth": 18,
	"nineteenth": 19, "twentieth": 20, "thirtieth": 30, "fortieth": 40,
	"fiftieth": 50, "sixtieth": 60, "seventieth": 70, "eightieth": 80,
	"ninetieth": 90,
}
