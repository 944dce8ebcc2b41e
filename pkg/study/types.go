package study

import "fmt"

// Condition is the experimental speech-register condition of a trial.
type Condition string

const (
	IDS Condition = "IDS" // infant-directed speech
	ADS Condition = "ADS" // adult-directed speech
)

// Method is the lab's testing method, constant across a lab's subjects.
type Method string

const (
	MethodHPP Method = "HPP" // head-turn preference procedure
	MethodCF  Method = "CF"  // central fixation
	MethodET  Method = "ET"  // eye tracking
)

// Methods lists the methods a lab can be assigned.
var Methods = []Method{MethodHPP, MethodCF, MethodET}

// Sessions lists the session types a subject can be assigned.
var Sessions = []string{"first", "second", "third", "fourth", "fifth"}

// Languages lists the native-language groups a subject can be assigned.
var Languages = []string{"NAE", "British", "German", "Japanese", "Other"}

// Bilingual status of a subject.
var BilingualLevels = []string{"monolingual", "bilingual"}

// Trial is one observation: a single trial of a single subject in a single
// lab. Lab-level fields (Method) are identical across a lab's trials and
// subject-level fields (Age, Session, Language, Bilingual) are identical
// across a subject's trials.
type Trial struct {
	Lab       string    `json:"lab"`
	Subject   string    `json:"subject"`   // unique: "<LAB>-<index>"
	Trial     int       `json:"trial"`     // 1..TrialsPerSubject
	Block     int       `json:"block"`     // floor((Trial-1)/4)+1
	Condition Condition `json:"condition"`
	LT        float64   `json:"lt"`        // looking time, (0, 20]
	Age       float64   `json:"age"`       // months, subject-level
	Method    Method    `json:"method"`
	Session   string    `json:"session"`
	Language  string    `json:"language"`
	Bilingual string    `json:"bilingual"`
}

// SubjectAggregate is one subject's mean log looking time in one condition.
type SubjectAggregate struct {
	Lab       string    `json:"lab"`
	Method    Method    `json:"method"`
	Session   string    `json:"session"`
	Subject   string    `json:"subject"`
	Language  string    `json:"language"`
	Bilingual string    `json:"bilingual"`
	Condition Condition `json:"condition"`
	Age       float64   `json:"age"`
	MeanLogLT float64   `json:"meanLogLt"`
	Trials    int       `json:"trials"` // surviving trials behind the mean
}

// PairedSubject is the wide, one-row-per-subject view with both conditions
// side by side and the derived preference scores.
type PairedSubject struct {
	Lab       string  `json:"lab"`
	Method    Method  `json:"method"`
	Session   string  `json:"session"`
	Subject   string  `json:"subject"`
	Language  string  `json:"language"`
	Bilingual string  `json:"bilingual"`
	Age       float64 `json:"age"`
	IDS       float64 `json:"ids"`  // mean log LT, IDS trials
	ADS       float64 `json:"ads"`  // mean log LT, ADS trials
	Diff      float64 `json:"diff"` // IDS - ADS
	Prop      float64 `json:"prop"` // IDS / (IDS + ADS)
}

// SubjectID derives the dataset-unique subject identifier.
func SubjectID(lab string, index int) string {
	return fmt.Sprintf("%s-%d", lab, index)
}

// BlockOf maps a 1-based trial number to its block.
func BlockOf(trial int) int {
	return (trial-1)/4 + 1
}
