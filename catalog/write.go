package catalog

import (
	"sort"
	"time"

	"github.com/maseology/mmio"
)

// Save writes the catalog to the three csv files shared with the external
// collaborators. Rows are ordered deterministically (events by id, stations
// by id, phases by event id then station then type).
func (c *Catalog) Save(eventFP, stationFP, phaseFP string) error {
	if err := c.writeEvents(eventFP); err != nil {
		return err
	}
	if err := c.writeStations(stationFP); err != nil {
		return err
	}
	return c.writePhases(phaseFP)
}

func (c *Catalog) writeEvents(fp string) error {
	csvw := mmio.NewCSVwriter(fp)
	defer csvw.Close()
	if err := csvw.WriteHead("id,isotime,latitude,longitude,depth,magnitude,horizontal_err,vertical_err,rms"); err != nil {
		return err
	}
	for _, id := range c.EventIDs() {
		ev := c.Events[id]
		csvw.WriteLine(ev.ID, ev.Time.Format(time.RFC3339Nano), ev.Lat, ev.Lon, ev.Depth,
			ev.Magnitude, ev.HorizErr, ev.VertErr, ev.RMS)
	}
	return nil
}

func (c *Catalog) writeStations(fp string) error {
	csvw := mmio.NewCSVwriter(fp)
	defer csvw.Close()
	if err := csvw.WriteHead("id,latitude,longitude,elevation,networkCode,stationCode,locationCode"); err != nil {
		return err
	}
	ids := make([]string, 0, len(c.Stations))
	for id := range c.Stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sta := c.Stations[id]
		csvw.WriteLine(sta.ID, sta.Lat, sta.Lon, sta.Elev, sta.NetworkCode, sta.StationCode, sta.LocationCode)
	}
	return nil
}

func (c *Catalog) writePhases(fp string) error {
	csvw := mmio.NewCSVwriter(fp)
	defer csvw.Close()
	if err := csvw.WriteHead("eventId,stationId,isotime,lowerUncertainty,upperUncertainty,type,networkCode,stationCode,locationCode,channelCode,evalMode"); err != nil {
		return err
	}
	for _, id := range c.EventIDs() {
		phs := append([]Phase(nil), c.Phases[id]...)
		sort.Slice(phs, func(i, j int) bool {
			if phs[i].StationID != phs[j].StationID {
				return phs[i].StationID < phs[j].StationID
			}
			return phs[i].Type < phs[j].Type
		})
		for _, ph := range phs {
			csvw.WriteLine(ph.EventID, ph.StationID, ph.Time.Format(time.RFC3339Nano),
				ph.LowerUncertainty, ph.UpperUncertainty, string(ph.Type),
				ph.NetworkCode, ph.StationCode, ph.LocationCode, ph.ChannelCode, evalModeString(ph.EvalMode))
		}
	}
	return nil
}

func evalModeString(m EvalMode) string {
	switch m {
	case Automatic:
		return "automatic"
	case Theoretical:
		return "theoretical"
	default:
		return "manual"
	}
}
