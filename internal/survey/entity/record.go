package entity

import "time"

// NumFeatures is the length of the model input vector.
const NumFeatures = 15

// Features is the model input in the order
// gender, age, smoking, yellow_fingers, anxiety, peer_pressure,
// chronic_disease, fatigue, allergy, wheezing, alcohol_consuming, coughing,
// shortness_of_breath, swallowing_difficulty, chest_pain.
type Features [NumFeatures]int

// Slice returns the vector as a slice for classifiers.
func (f Features) Slice() []int {
	out := make([]int, NumFeatures)
	copy(out, f[:])
	return out
}

// Record is one row of the health_data audit log. It is not linked to the
// submitting account.
type Record struct {
	ID                   int64     `db:"id"`
	Gender               int       `db:"gender"`
	Age                  int       `db:"age"`
	Smoking              int       `db:"smoking"`
	YellowFingers        int       `db:"yellow_fingers"`
	Anxiety              int       `db:"anxiety"`
	PeerPressure         int       `db:"peer_pressure"`
	ChronicDisease       int       `db:"chronic_disease"`
	Fatigue              int       `db:"fatigue"`
	Allergy              int       `db:"allergy"`
	Wheezing             int       `db:"wheezing"`
	AlcoholConsuming     int       `db:"alcohol_consuming"`
	Coughing             int       `db:"coughing"`
	ShortnessOfBreath    int       `db:"shortness_of_breath"`
	SwallowingDifficulty int       `db:"swallowing_difficulty"`
	ChestPain            int       `db:"chest_pain"`
	Prediction           *int      `db:"prediction"`
	CreatedAt            time.Time `db:"created_at"`
}

// Features returns the record's model input vector.
func (r *Record) Features() Features {
	return Features{
		r.Gender, r.Age, r.Smoking, r.YellowFingers, r.Anxiety, r.PeerPressure,
		r.ChronicDisease, r.Fatigue, r.Allergy, r.Wheezing, r.AlcoholConsuming,
		r.Coughing, r.ShortnessOfBreath, r.SwallowingDifficulty, r.ChestPain,
	}
}
