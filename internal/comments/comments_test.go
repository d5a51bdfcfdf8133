package comments

import (
	"strings"
	"testing"
)

func TestWelcomeComment_ContainsTicketLink(t *testing.T) {
	body := WelcomeComment(Context{
		AuthorLogin:     "tusbar",
		TicketID:        "OSPR-1234",
		TicketBrowseURL: "https://tracker.opencourse.org/browse/",
	})
	if !IsKind(Welcome, body) {
		t.Error("welcome indicator missing")
	}
	if !strings.Contains(body, "[OSPR-1234](https://tracker.opencourse.org/browse/OSPR-1234)") {
		t.Errorf("ticket link missing from body:\n%s", body)
	}
	if IsKind(NeedCLA, body) {
		t.Error("CLA paragraph should not appear without NeedCLA flag")
	}
}

func TestWelcomeComment_FoldsCLAAndWIP(t *testing.T) {
	body := WelcomeComment(Context{
		AuthorLogin: "newbie",
		TicketID:    "OSPR-9",
		NeedCLA:     true,
		EndOfWIP:    true,
	})
	if !IsKind(NeedCLA, body) {
		t.Error("NeedCLA indicator missing")
	}
	if !strings.Contains(body, "signed contributor agreement") {
		t.Error("CLA instructions missing")
	}
	if !IsKind(EndOfWIP, body) {
		t.Error("EndOfWIP indicator missing")
	}
}

func TestWelcomeComment_MentionsDeletedTicket(t *testing.T) {
	body := WelcomeComment(Context{
		AuthorLogin:     "tusbar",
		TicketID:        "BLEND-7",
		DeletedTicketID: "OSPR-55",
	})
	if !strings.Contains(body, "OSPR-55") {
		t.Error("deleted ticket id missing from body")
	}
}

func TestContractorComment(t *testing.T) {
	body := ContractorComment(Context{AuthorLogin: "vendor-dev"})
	if !IsKind(Contractor, body) {
		t.Error("contractor indicator missing")
	}
	if !strings.Contains(body, "contract work") {
		t.Error("contractor explanation missing")
	}
}

func TestBlendedComment_EpicLink(t *testing.T) {
	body := BlendedComment(Context{
		AuthorLogin: "sponsored",
		TicketID:    "BLEND-12",
		EpicKey:     "BLEND-2",
	})
	if !IsKind(Blended, body) {
		t.Error("blended indicator missing")
	}
	if !strings.Contains(body, "BLEND-2") {
		t.Error("epic key missing")
	}
}

func TestMergePingComment_Champions(t *testing.T) {
	body := MergePingComment(Context{AuthorLogin: "committer1"}, []string{"champ-a", "champ-b"})
	if !IsKind(ChampionMergePing, body) {
		t.Error("merge-ping indicator missing")
	}
	if !strings.Contains(body, "@champ-a @champ-b") {
		t.Errorf("champion mentions missing:\n%s", body)
	}
}

func TestKindsIn(t *testing.T) {
	body := WelcomeComment(Context{AuthorLogin: "x", TicketID: "OSPR-1", NeedCLA: true}) + OKToTestMarker
	kinds := KindsIn(body)
	for _, want := range []Kind{Welcome, NeedCLA, OKToTest} {
		if !kinds[want] {
			t.Errorf("expected kind %s in body", want)
		}
	}
	if kinds[Blended] {
		t.Error("did not expect blended kind")
	}
}
