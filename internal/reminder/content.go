// Package reminder generates the birthday email content and the upcoming
// birthday views. Reminder bodies carry the greeting in Kurdish, English,
// German and Arabic with gender-aware pronouns.
package reminder

import (
	"fmt"
	"html"
	"strings"

	"github.com/birthdayd/internal/model"
)

// PhotoCID is the Content-ID the reminder body uses to reference an inline
// photo. Must match the id the mail layer attaches the photo under.
const PhotoCID = "birthday-photo"

// Subject returns the reminder subject for one person.
func Subject(b model.Birthday) string {
	return fmt.Sprintf("Birthday Reminder: %s", b.Name)
}

// Body renders the multilingual HTML reminder. When withPhoto is set the
// body references the inline photo by CID; the caller is responsible for
// actually attaching it.
func Body(b model.Birthday, withPhoto bool) string {
	name := html.EscapeString(b.Name)
	age := b.Age

	male := b.Gender != nil && *b.Gender == "male"
	pronounEN := "she"
	pronounDE := "sie"
	pronounAR := "هي تبلغ"
	if male {
		pronounEN = "he"
		pronounDE = "er"
		pronounAR = "هو يبلغ"
	}

	var sb strings.Builder
	sb.WriteString("<html>\n<body>\n")
	fmt.Fprintf(&sb, "<p><strong>Kurdish (Kurmanci):</strong> Îro rojbûna %s ye, dibe %d salî.</p>\n", name, age)
	fmt.Fprintf(&sb, "<p><strong>English:</strong> Today is %s's birthday, and %s is turning %d years old.</p>\n", name, pronounEN, age)
	fmt.Fprintf(&sb, "<p><strong>German:</strong> Heute ist der Geburtstag von %s, und %s wird %d Jahre alt.</p>\n", name, pronounDE, age)
	fmt.Fprintf(&sb, "<p><strong>Arabic:</strong> اليوم هو عيد ميلاد %s، و %s من العمر %d عامًا.</p>\n", name, pronounAR, age)
	if withPhoto {
		fmt.Fprintf(&sb,
			`<p><img src="cid:%s" alt="Photo of %s" style="max-width: 150px; border-radius: 10px"></p>`+"\n",
			PhotoCID, name)
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}
