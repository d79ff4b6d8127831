package catalog

import (
	"strconv"
	"strings"
	"time"

	"github.com/maseology/mmio"
	"github.com/pkg/errors"
)

// Load reads the three shared csv files and returns the assembled catalog
// with Cartesian coordinates computed.
func Load(eventFP, stationFP, phaseFP string) (*Catalog, error) {
	c := New()
	if err := c.readEvents(eventFP); err != nil {
		return nil, errors.Wrap(err, "catalog: reading events")
	}
	if err := c.readStations(stationFP); err != nil {
		return nil, errors.Wrap(err, "catalog: reading stations")
	}
	if err := c.readPhases(phaseFP); err != nil {
		return nil, errors.Wrap(err, "catalog: reading phases")
	}
	c.ComputeCartesians()
	return c, nil
}

// event.csv: id,isotime,latitude,longitude,depth,magnitude,horizontal_err,vertical_err,rms
func (c *Catalog) readEvents(fp string) error {
	lns, err := mmio.ReadTextLines(fp)
	if err != nil {
		return err
	}
	for i, ln := range lns {
		if i == 0 || len(strings.TrimSpace(ln)) == 0 {
			continue // header
		}
		f := strings.Split(ln, ",")
		if len(f) < 9 {
			return errors.Errorf("line %d: expected 9 fields, got %d", i+1, len(f))
		}
		id, err := strconv.Atoi(strings.TrimSpace(f[0]))
		if err != nil {
			return errors.Wrapf(err, "line %d: id", i+1)
		}
		tm, err := time.Parse(time.RFC3339, strings.TrimSpace(f[1]))
		if err != nil {
			return errors.Wrapf(err, "line %d: isotime", i+1)
		}
		v, err := parseFloats(f[2:9])
		if err != nil {
			return errors.Wrapf(err, "line %d", i+1)
		}
		c.AddEvent(Event{
			ID: id, Time: tm,
			Lat: v[0], Lon: v[1], Depth: v[2], Magnitude: v[3],
			HorizErr: v[4], VertErr: v[5], RMS: v[6],
		})
	}
	return nil
}

// station.csv: id,latitude,longitude,elevation,networkCode,stationCode,locationCode
func (c *Catalog) readStations(fp string) error {
	lns, err := mmio.ReadTextLines(fp)
	if err != nil {
		return err
	}
	for i, ln := range lns {
		if i == 0 || len(strings.TrimSpace(ln)) == 0 {
			continue
		}
		f := strings.Split(ln, ",")
		if len(f) < 7 {
			return errors.Errorf("line %d: expected 7 fields, got %d", i+1, len(f))
		}
		v, err := parseFloats(f[1:4])
		if err != nil {
			return errors.Wrapf(err, "line %d", i+1)
		}
		c.AddStation(Station{
			ID:  strings.TrimSpace(f[0]),
			Lat: v[0], Lon: v[1], Elev: v[2],
			NetworkCode:  strings.TrimSpace(f[4]),
			StationCode:  strings.TrimSpace(f[5]),
			LocationCode: strings.TrimSpace(f[6]),
		})
	}
	return nil
}

// phase.csv: eventId,stationId,isotime,lowerUncertainty,upperUncertainty,type,
//            networkCode,stationCode,locationCode,channelCode,evalMode
func (c *Catalog) readPhases(fp string) error {
	lns, err := mmio.ReadTextLines(fp)
	if err != nil {
		return err
	}
	for i, ln := range lns {
		if i == 0 || len(strings.TrimSpace(ln)) == 0 {
			continue
		}
		f := strings.Split(ln, ",")
		if len(f) < 11 {
			return errors.Errorf("line %d: expected 11 fields, got %d", i+1, len(f))
		}
		evID, err := strconv.Atoi(strings.TrimSpace(f[0]))
		if err != nil {
			return errors.Wrapf(err, "line %d: eventId", i+1)
		}
		tm, err := time.Parse(time.RFC3339, strings.TrimSpace(f[2]))
		if err != nil {
			return errors.Wrapf(err, "line %d: isotime", i+1)
		}
		v, err := parseFloats(f[3:5])
		if err != nil {
			return errors.Wrapf(err, "line %d", i+1)
		}
		pt, err := parsePhaseType(strings.TrimSpace(f[5]))
		if err != nil {
			return errors.Wrapf(err, "line %d", i+1)
		}
		em, err := parseEvalMode(strings.TrimSpace(f[10]))
		if err != nil {
			return errors.Wrapf(err, "line %d", i+1)
		}
		c.AddPhase(Phase{
			EventID:          evID,
			StationID:        strings.TrimSpace(f[1]),
			Time:             tm,
			LowerUncertainty: v[0],
			UpperUncertainty: v[1],
			Type:             pt,
			NetworkCode:      strings.TrimSpace(f[6]),
			StationCode:      strings.TrimSpace(f[7]),
			LocationCode:     strings.TrimSpace(f[8]),
			ChannelCode:      strings.TrimSpace(f[9]),
			EvalMode:         em,
		})
	}
	return nil
}

func parseFloats(fs []string) ([]float64, error) {
	out := make([]float64, len(fs))
	for i, s := range fs {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parsePhaseType(s string) (PhaseType, error) {
	switch strings.ToUpper(s) {
	case "P":
		return P, nil
	case "S":
		return S, nil
	}
	return 0, errors.Errorf("unknown phase type %q", s)
}

func parseEvalMode(s string) (EvalMode, error) {
	switch strings.ToLower(s) {
	case "manual":
		return Manual, nil
	case "automatic":
		return Automatic, nil
	case "theoretical":
		return Theoretical, nil
	}
	return 0, errors.Errorf("unknown evaluation mode %q", s)
}
