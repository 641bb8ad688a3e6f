// Package keywords classifies short Indonesian patient replies into
// verification and confirmation outcomes.
//
// Matching is deterministic substring matching over a fixed word list, with
// a strict precedence order so compound replies resolve predictably. It is
// the fast path in front of the AI gateway and must never require network or
// storage access.
package keywords

import "strings"

// VerificationReply is the outcome of matching a reply in verification context.
type VerificationReply string

const (
	ReplyAccept       VerificationReply = "accept"
	ReplyDecline      VerificationReply = "decline"
	ReplyUnsubscribe  VerificationReply = "unsubscribe"
	ReplyUnrecognized VerificationReply = "unrecognized"
)

// ConfirmationReply is the outcome of matching a reply in reminder
// confirmation context.
type ConfirmationReply string

const (
	ReplyTaken       ConfirmationReply = "taken"
	ReplyNotYet      ConfirmationReply = "not_yet"
	ReplyNeedHelp    ConfirmationReply = "need_help"
	ReplyUnmatchable ConfirmationReply = "unmatchable"
)

// Keyword lists. Order within a list does not matter; only the precedence
// between lists does.
var (
	unsubscribeWords = []string{"berhenti", "stop", "batal", "keluar", "unsubscribe"}
	acceptWords      = []string{"ya", "iya", "setuju", "ok", "oke", "boleh", "mau", "bersedia"}
	declineWords     = []string{"tidak", "tdk", "nggak", "gak", "tolak", "jangan"}

	takenWords  = []string{"sudah", "udah", "selesai", "done"}
	notYetWords = []string{"belum", "belom", "nanti"}
	helpWords   = []string{"bantuan", "tolong", "bantu"}
)

// Poll option labels sent with outbound polls. Poll replies bypass substring
// matching and map exactly.
const (
	PollOptionYes      = "Ya"
	PollOptionNo       = "Tidak"
	PollOptionTaken    = "Sudah"
	PollOptionNotYet   = "Belum"
	PollOptionNeedHelp = "Butuh Bantuan"
)

// normalize lowercases and trims the reply for matching.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// containsWord reports whether the normalized text contains the keyword as a
// whole word. Plain substring matching would turn "yakin" into an accept, so
// word boundaries are checked.
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func matchesAny(text string, words []string) bool {
	for _, w := range words {
		if containsWord(text, w) {
			return true
		}
	}
	return false
}

// MatchVerification classifies a free-text reply in verification context.
// Unsubscribe words win over accept words, and accept words win over decline
// words, so "ya tapi saya mau berhenti" resolves to unsubscribe.
func MatchVerification(text string) VerificationReply {
	t := normalize(text)
	if t == "" {
		return ReplyUnrecognized
	}
	switch {
	case matchesAny(t, unsubscribeWords):
		return ReplyUnsubscribe
	case matchesAny(t, acceptWords):
		return ReplyAccept
	case matchesAny(t, declineWords):
		return ReplyDecline
	default:
		return ReplyUnrecognized
	}
}

// MatchConfirmation classifies a free-text reply in reminder confirmation
// context. Help words win, then "taken" words, then "not yet" words.
func MatchConfirmation(text string) ConfirmationReply {
	t := normalize(text)
	if t == "" {
		return ReplyUnmatchable
	}
	switch {
	case matchesAny(t, helpWords):
		return ReplyNeedHelp
	case matchesAny(t, takenWords):
		return ReplyTaken
	case matchesAny(t, notYetWords):
		return ReplyNotYet
	default:
		return ReplyUnmatchable
	}
}

// MatchVerificationPoll maps a structured poll option in verification context.
func MatchVerificationPoll(option string) VerificationReply {
	switch strings.TrimSpace(option) {
	case PollOptionYes:
		return ReplyAccept
	case PollOptionNo:
		return ReplyDecline
	default:
		return MatchVerification(option)
	}
}

// MatchConfirmationPoll maps a structured poll option in reminder
// confirmation context.
func MatchConfirmationPoll(option string) ConfirmationReply {
	switch strings.TrimSpace(option) {
	case PollOptionTaken:
		return ReplyTaken
	case PollOptionNotYet:
		return ReplyNotYet
	case PollOptionNeedHelp:
		return ReplyNeedHelp
	default:
		return MatchConfirmation(option)
	}
}
