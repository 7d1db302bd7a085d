package catalog

import "regexp"

// Built-in extraction patterns descriptors may reference by name. Each has
// exactly one capture group holding the raw value; numeric captures may
// contain thousands separators, which the lifter strips.
var builtinPatterns = map[string]*regexp.Regexp{
	// "$45", "$1,299.50"
	"currency_amount": regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`),
	// "$4.33/gallon", "4.33 per gallon"
	"price_per_unit": regexp.MustCompile(`\$?\s*([0-9]+(?:\.[0-9]+)?)\s*(?:/\s*|per\s+)(?:gallon|gal|liter|litre|unit)\b`),
	// "12 gallons", "9.5 gal"
	"volume_gallons": regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(?:gallons?|gal)\b`),
	// "odometer 45000", "odometer: 45,000", "odometer at 45000"
	"odometer": regexp.MustCompile(`odometer\s*(?:at\s+|:\s*)?([0-9][0-9,]*)`),
	// "5 miles", "3.2 mi", "10 km"
	"distance": regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(?:miles?|mi|km|kilometers?)\b`),
	// "45 minutes", "90 min"
	"minutes": regexp.MustCompile(`([0-9]+)\s*(?:minutes?|mins?)\b`),
	// "650 calories", "300 kcal"
	"calories": regexp.MustCompile(`([0-9]+)\s*(?:calories|kcal|cal)\b`),
	// "3 cans", "2 boxes"
	"item_count": regexp.MustCompile(`([0-9]+)\s*(?:units?|items?|cans?|boxes|bags?|bottles?)\b`),
	// "7 days"
	"day_count": regexp.MustCompile(`([0-9]+)\s*days?\b`),
	// ISO dates only; relative dates ("tomorrow") are the parser's job
	"iso_date": regexp.MustCompile(`\b([0-9]{4}-[0-9]{2}-[0-9]{2})\b`),
}
