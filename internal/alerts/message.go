package alerts

import (
	"fmt"
	"math"
	"strings"
	"time"

	"aqiwatch/internal/types"
)

// Message is the rendered alert content handed to the notifier.
type Message struct {
	Subject string
	Body    string
}

func composeMessage(location string, currentAQI float64, forecast *types.ForecastResult, trig Trigger, now time.Time) Message {
	aqi := int(math.Round(trig.AQI))
	cat := types.CategoryFor(trig.AQI)

	var b strings.Builder
	if location != "" {
		fmt.Fprintf(&b, "Hazardous air quality detected for %s.\n\n", location)
	} else {
		b.WriteString("Hazardous air quality detected.\n\n")
	}

	if trig.Source == "current" {
		fmt.Fprintf(&b, "- Observed AQI: %d\n", aqi)
	} else {
		fmt.Fprintf(&b, "- Predicted AQI (%s ahead): %d\n", trig.Source, aqi)
		fmt.Fprintf(&b, "- Observed AQI: %d\n", int(math.Round(currentAQI)))
	}
	fmt.Fprintf(&b, "- Status: %s\n", cat.Label())
	fmt.Fprintf(&b, "- Time: %s\n", now.Format(time.RFC1123))

	if forecast != nil && len(forecast.Horizons) > 0 {
		b.WriteString("\nForecast:\n")
		for _, h := range forecast.Horizons {
			fmt.Fprintf(&b, "- %s: %d (%s)\n", h.Label, int(math.Round(h.AQI)), h.Category.Label())
		}
	}

	fmt.Fprintf(&b, "\n%s\n", cat.Recommendation())

	return Message{
		Subject: fmt.Sprintf("HAZARDOUS SMOG ALERT: AQI %d", aqi),
		Body:    b.String(),
	}
}
