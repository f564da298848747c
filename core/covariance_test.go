package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/araim-monitor/model"
)

func covarianceISM() (*model.IntegritySupportMessage, []model.SatelliteID) {
	ids := []model.SatelliteID{"GPS01", "GPS02", "GAL01"}
	ism := &model.IntegritySupportMessage{
		Satellites: map[model.SatelliteID]model.SatelliteIntegrity{
			"GPS01": {SigmaURA: 1.0, SigmaURE: 0.5, PSat: 1e-5},
			"GPS02": {SigmaURA: 2.0, SigmaURE: 0.75, PSat: 1e-5},
			"GAL01": {SigmaURA: 0.8, SigmaURE: 0.4, PSat: 1e-5},
		},
		Constellations: map[model.ConstellationID]float64{"GPS": 1e-8, "GAL": 1e-4},
	}
	return ism, ids
}

func TestBuildCovariance_CombinesTerms(t *testing.T) {
	ism, ids := covarianceISM()
	tropo := []float64{0.3, 0.12, 0.5}
	user := []float64{0.25, 0.4, 0.2}

	cov, err := BuildCovariance(ism, ids, PerSatellite(tropo), PerSatellite(user))
	if err != nil {
		t.Fatalf("BuildCovariance: %v", err)
	}
	for i, id := range ids {
		entry := ism.Satellites[id]
		wantInt := entry.SigmaURA*entry.SigmaURA + tropo[i]*tropo[i] + user[i]*user[i]
		wantAcc := entry.SigmaURE*entry.SigmaURE + tropo[i]*tropo[i] + user[i]*user[i]
		if math.Abs(cov.Int[i]-wantInt) > 1e-12 {
			t.Fatalf("Int[%s] = %v, want %v", id, cov.Int[i], wantInt)
		}
		if math.Abs(cov.Acc[i]-wantAcc) > 1e-12 {
			t.Fatalf("Acc[%s] = %v, want %v", id, cov.Acc[i], wantAcc)
		}
		if cov.Satellites[i] != id {
			t.Fatalf("satellite order = %v, want %v", cov.Satellites, ids)
		}
	}

	intM, accM := cov.IntMatrix(), cov.AccMatrix()
	if intM.Diag() != len(ids) || accM.Diag() != len(ids) {
		t.Fatalf("matrix sizes %d/%d, want %d", intM.Diag(), accM.Diag(), len(ids))
	}
	if intM.At(1, 1) != cov.Int[1] || accM.At(2, 2) != cov.Acc[2] || intM.At(0, 1) != 0 {
		t.Fatalf("diagonal matrices do not mirror the variances")
	}
	intM.SetDiag(0, 99)
	if cov.Int[0] == 99 {
		t.Fatalf("IntMatrix shares storage with the covariance set")
	}
}

func TestBuildCovariance_BroadcastMatchesPerSatellite(t *testing.T) {
	ism, ids := covarianceISM()

	scalar, err := BuildCovariance(ism, ids, Broadcast(0.3), Broadcast(0.25))
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	explicit, err := BuildCovariance(ism, ids, PerSatellite([]float64{0.3, 0.3, 0.3}), PerSatellite([]float64{0.25, 0.25, 0.25}))
	if err != nil {
		t.Fatalf("per satellite: %v", err)
	}
	for i := range ids {
		if scalar.Int[i] != explicit.Int[i] || scalar.Acc[i] != explicit.Acc[i] {
			t.Fatalf("row %d: broadcast (%v, %v) != per satellite (%v, %v)", i, scalar.Int[i], scalar.Acc[i], explicit.Int[i], explicit.Acc[i])
		}
	}

	mixed, err := BuildCovariance(ism, ids, Broadcast(0.3), PerSatellite([]float64{0, 0.4, 0}))
	if err != nil {
		t.Fatalf("mixed: %v", err)
	}
	if want := 1.0 + 0.09; math.Abs(mixed.Int[0]-want) > 1e-12 {
		t.Fatalf("Int[0] = %v, want %v", mixed.Int[0], want)
	}
	if want := 4.0 + 0.09 + 0.16; math.Abs(mixed.Int[1]-want) > 1e-12 {
		t.Fatalf("Int[1] = %v, want %v", mixed.Int[1], want)
	}
}

func TestBuildCovariance_Errors(t *testing.T) {
	ism, ids := covarianceISM()
	zeroSigma := &model.IntegritySupportMessage{
		Satellites:     map[model.SatelliteID]model.SatelliteIntegrity{"GPS01": {}},
		Constellations: ism.Constellations,
	}

	cases := []struct {
		name  string
		ism   *model.IntegritySupportMessage
		ids   []model.SatelliteID
		tropo ErrorTerms
		user  ErrorTerms
		want  error
	}{
		{"negative-tropo", ism, ids, PerSatellite([]float64{0.3, -0.1, 0.3}), Broadcast(0.25), ErrConfig},
		{"negative-user", ism, ids, Broadcast(0.3), Broadcast(-0.25), ErrConfig},
		{"short-tropo", ism, ids, PerSatellite([]float64{0.3, 0.3}), Broadcast(0.25), ErrConfig},
		{"long-user", ism, ids, Broadcast(0.3), PerSatellite([]float64{0.1, 0.1, 0.1, 0.1}), ErrConfig},
		{"zero-variance", zeroSigma, []model.SatelliteID{"GPS01"}, Broadcast(0), Broadcast(0), ErrConfig},
		{"nil-ism", nil, ids, Broadcast(0.3), Broadcast(0.25), ErrConfig},
		{"unknown-satellite", ism, []model.SatelliteID{"GPS01", "GPS31"}, Broadcast(0.3), Broadcast(0.25), ErrDomain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cov, err := BuildCovariance(tc.ism, tc.ids, tc.tropo, tc.user)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if cov != nil {
				t.Fatalf("covariance returned alongside error")
			}
		})
	}
}

func TestErrorTermsFromElevation_RejectsIndividually(t *testing.T) {
	obs := testObservations(3, "GPS")
	obs[1].Elevation = 2.5

	tropo, user, rejected := ErrorTermsFromElevation(obs)
	if len(rejected) != 1 || !errors.Is(rejected[1], ErrConfig) {
		t.Fatalf("rejected = %v, want only row 1 with ErrConfig", rejected)
	}
	if tropo[1] != 0 || user[1] != 0 {
		t.Fatalf("rejected row carries terms %v/%v", tropo[1], user[1])
	}
	for _, i := range []int{0, 2} {
		wantT, _ := TropoError(obs[i].Elevation)
		wantU, _ := UserError(obs[i].Elevation)
		if tropo[i] != wantT || user[i] != wantU {
			t.Fatalf("row %d = %v/%v, want %v/%v", i, tropo[i], user[i], wantT, wantU)
		}
	}
}
