package feedback

import (
	"fmt"
	"regexp"
	"strings"

	"resumind/internal/types"
)

const (
	signalPoints      = 20
	targetWordCount   = 300
	toneAndStyleScore = 75
	defaultJobTitle   = "this role"
)

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)

	phoneMarkers      = []string{"phone", "tel"}
	experienceMarkers = []string{"experience", "employment", "work history", "worked at", "professional background"}
	educationMarkers  = []string{"education", "university", "college", "degree", "bachelor", "master", "diploma"}
	skillsMarkers     = []string{"skills", "technologies", "proficient", "competencies", "tools"}
)

// signals 文本中检测到的启发式信号
type signals struct {
	contact    bool
	phone      bool
	experience bool
	education  bool
	skills     bool
}

func (s signals) count() int {
	n := 0
	for _, ok := range []bool{s.contact, s.phone, s.experience, s.education, s.skills} {
		if ok {
			n++
		}
	}
	return n
}

func detectSignals(text string) signals {
	lower := strings.ToLower(text)
	return signals{
		contact:    emailPattern.MatchString(text) || strings.Contains(lower, "email") || strings.Contains(lower, "@"),
		phone:      phonePattern.MatchString(text) || containsAny(lower, phoneMarkers),
		experience: containsAny(lower, experienceMarkers),
		education:  containsAny(lower, educationMarkers),
		skills:     containsAny(lower, skillsMarkers),
	}
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func tipType(ok bool) types.TipType {
	if ok {
		return types.TipGood
	}
	return types.TipImprove
}

// Fallback 在AI分析不可用时基于规则生成分析结果，结果只依赖输入
func Fallback(text, jobTitle, jobDescription string) types.Feedback {
	title := strings.TrimSpace(jobTitle)
	if title == "" {
		title = defaultJobTitle
	}
	sig := detectSignals(text)
	words := len(strings.Fields(text))

	atsScore := sig.count() * signalPoints
	contentScore := min(100, words*100/targetWordCount)
	structureScore := 65
	if sig.experience && sig.education && sig.skills {
		structureScore = 85
	}
	skillsScore := 50
	if sig.skills {
		skillsScore = 80
	}

	return types.Feedback{
		OverallScore: (atsScore + contentScore + structureScore) / 3,
		ATS: types.Category{
			Score: atsScore,
			Tips: []types.Tip{
				{Type: tipType(sig.contact), Tip: pick(sig.contact, "Contact email is easy to find", "Add a professional email address")},
				{Type: tipType(sig.phone), Tip: pick(sig.phone, "Phone number is included", "Add a phone number recruiters can call")},
				{Type: types.TipImprove, Tip: keywordTip(title, jobDescription)},
			},
		},
		ToneAndStyle: types.Category{
			Score: toneAndStyleScore,
			Tips: []types.Tip{
				{
					Type:        types.TipImprove,
					Tip:         "Lead bullets with strong action verbs",
					Explanation: "Start each achievement with a verb such as built, led or reduced to keep the tone confident.",
				},
				{
					Type:        types.TipImprove,
					Tip:         "Keep a consistent voice",
					Explanation: "Write every bullet in the same tense and avoid first-person pronouns.",
				},
			},
		},
		Content: types.Category{
			Score: contentScore,
			Tips: []types.Tip{
				{
					Type:        tipType(words >= targetWordCount),
					Tip:         pick(words >= targetWordCount, "Resume has enough detail", "Add more detail about your work"),
					Explanation: fmt.Sprintf("The extracted text has %d words. Around %d words gives reviewers enough context.", words, targetWordCount),
				},
				{
					Type:        types.TipImprove,
					Tip:         "Quantify your achievements",
					Explanation: fmt.Sprintf("Numbers such as revenue, users or time saved make your impact for %s concrete.", title),
				},
			},
		},
		Structure: types.Category{
			Score: structureScore,
			Tips: []types.Tip{
				{
					Type:        tipType(sig.experience),
					Tip:         pick(sig.experience, "Experience section found", "Add an experience section"),
					Explanation: "A clearly labelled experience section helps ATS parsers map your work history.",
				},
				{
					Type:        tipType(sig.education),
					Tip:         pick(sig.education, "Education section found", "Add an education section"),
					Explanation: "List degrees and institutions under a standard Education heading.",
				},
				{
					Type:        types.TipImprove,
					Tip:         "Use standard section headings",
					Explanation: "Plain headings like Experience, Education and Skills parse more reliably than creative titles.",
				},
			},
		},
		Skills: types.Category{
			Score: skillsScore,
			Tips: []types.Tip{
				{
					Type:        tipType(sig.skills),
					Tip:         pick(sig.skills, "Skills section found", "Add a dedicated skills section"),
					Explanation: "A skills list lets screening software match you against required technologies.",
				},
				{
					Type:        types.TipImprove,
					Tip:         fmt.Sprintf("Align skills with %s", title),
					Explanation: "Compare your skills with the job description and list the ones it asks for first.",
				},
			},
		},
	}
}

func keywordTip(title, jobDescription string) string {
	if strings.TrimSpace(jobDescription) == "" {
		return fmt.Sprintf("Mirror keywords from typical %s postings", title)
	}
	return fmt.Sprintf("Mirror keywords from the %s job description", title)
}

func pick(ok bool, good, improve string) string {
	if ok {
		return good
	}
	return improve
}
