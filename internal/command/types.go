// Package command defines the intent whitelist that every matching stage
// resolves against.
//
// Commands are declared in a YAML command-set file ([LoadCommandsFile],
// [LoadCommandsFromReader]) and compiled into an immutable [Index] snapshot.
// A [Registry] owns the live snapshot and republishes a fresh one on registry
// reloads and macro saves; readers obtain snapshots lock-free through
// [Registry.Snapshot], so an in-flight resolution never observes a partially
// rebuilt index.
//
// All registry operations are safe for concurrent use.
package command

// CommandDefinition is the declarative format for one recognisable intent.
// It is loaded from the command-set file at startup and mutated only through
// explicit macro save/delete, never mid-match.
type CommandDefinition struct {
	// ID uniquely identifies the intent (e.g. "open_chrome", "search_web").
	ID string `yaml:"id" json:"id"`

	// Category classifies the intent for routing and context bonuses.
	Category Category `yaml:"category" json:"category"`

	// Phrases are the canonical trigger phrases matched by the exact, fuzzy,
	// phonetic, and semantic stages. Write them the way the normalizer
	// leaves an utterance: lowercase, articles and politeness words
	// omitted ("close window", not "close the window").
	Phrases []string `yaml:"phrases,omitempty" json:"phrases,omitempty"`

	// Templates are anchored regular expressions with named capture groups,
	// matched by the grammar stage against the normalized utterance. Group
	// names become slot names.
	Templates []string `yaml:"templates,omitempty" json:"templates,omitempty"`

	// Slots declares the kind of each named capture group across this
	// intent's templates. Groups without a declared kind default to
	// [SlotText].
	Slots map[string]SlotKind `yaml:"slots,omitempty" json:"slots,omitempty"`

	// Description is a short natural-language summary of what the intent
	// does. The semantic stage embeds it, so paraphrases like "launch the
	// web browser" can still land on "open chrome".
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Danger marks intents that must never execute without confirmation
	// (shutdown, restart, close-without-save), regardless of confidence.
	Danger bool `yaml:"danger,omitempty" json:"danger,omitempty"`

	// Verbatim marks dictation-style intents ("type <text>") whose free-text
	// argument must be preserved exactly as spoken, fillers included.
	Verbatim bool `yaml:"verbatim,omitempty" json:"verbatim,omitempty"`
}

// Category groups intents by the kind of action they perform. The router
// pre-classifies utterances into one of these to bound the matching scan and
// the context tracker keys its bonus tables by them.
type Category string

const (
	// CategoryAppControl covers opening, closing, and switching applications.
	CategoryAppControl Category = "app_control"

	// CategorySearch covers web and local search intents.
	CategorySearch Category = "search"

	// CategoryNavigation covers scrolling, tab, and history movement.
	CategoryNavigation Category = "navigation"

	// CategoryTyping covers dictation and key-press intents.
	CategoryTyping Category = "typing"

	// CategorySystem covers power, volume, lock, and screenshot intents.
	CategorySystem Category = "system"

	// CategoryFileOperation covers folder and file manager intents.
	CategoryFileOperation Category = "file_operation"

	// CategorySelection covers text selection intents.
	CategorySelection Category = "selection"

	// CategoryClipboard covers copy, paste, and cut.
	CategoryClipboard Category = "clipboard"

	// CategoryDeveloper covers process monitoring and scheduling intents.
	CategoryDeveloper Category = "developer"

	// CategoryContext covers pronoun and repeat intents resolved against
	// session history ("close it", "do it again").
	CategoryContext Category = "context"

	// CategoryMacro is assigned to user-recorded macros added at runtime.
	CategoryMacro Category = "macro"

	// CategoryUnknown is the router's answer when no category pattern
	// matches. It is not a valid category for a command definition.
	CategoryUnknown Category = "unknown"
)

// IsValid reports whether c is a category a command definition may declare.
func (c Category) IsValid() bool {
	switch c {
	case CategoryAppControl, CategorySearch, CategoryNavigation, CategoryTyping,
		CategorySystem, CategoryFileOperation, CategorySelection,
		CategoryClipboard, CategoryDeveloper, CategoryContext, CategoryMacro:
		return true
	}
	return false
}

// SlotKind constrains what a template's named capture group may hold. The
// grammar stage discards a match whose captured value cannot satisfy its
// declared kind.
type SlotKind string

const (
	// SlotText accepts any non-empty free text.
	SlotText SlotKind = "text"

	// SlotNumber requires an unsigned integer (the normalizer has already
	// converted number words, so "tab five" arrives as "tab 5").
	SlotNumber SlotKind = "number"

	// SlotOrdinal requires an ordinal converted to its integer position
	// ("third" arrives as "3").
	SlotOrdinal SlotKind = "ordinal"

	// SlotApp requires an application name.
	SlotApp SlotKind = "app"
)

// IsValid reports whether k is a recognised slot kind.
func (k SlotKind) IsValid() bool {
	switch k {
	case SlotText, SlotNumber, SlotOrdinal, SlotApp:
		return true
	}
	return false
}
