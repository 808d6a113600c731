package profile

import "time"

// signStarts lists, in calendar order, the first day of each sign.
var signStarts = []struct {
	month time.Month
	day   int
	sign  string
}{
	{time.January, 20, "aquarius"},
	{time.February, 19, "pisces"},
	{time.March, 21, "aries"},
	{time.April, 21, "taurus"},
	{time.May, 21, "gemini"},
	{time.June, 22, "cancer"},
	{time.July, 23, "leo"},
	{time.August, 23, "virgo"},
	{time.September, 24, "libra"},
	{time.October, 24, "scorpio"},
	{time.November, 23, "sagittarius"},
	{time.December, 22, "capricorn"},
}

// SignFromDate maps a DD.MM.YYYY birth date to a sign value.
func SignFromDate(date string) (string, bool) {
	t, err := time.Parse("02.01.2006", date)
	if err != nil {
		return "", false
	}
	sign := "capricorn"
	for _, s := range signStarts {
		if t.Month() > s.month || (t.Month() == s.month && t.Day() >= s.day) {
			sign = s.sign
		}
	}
	return sign, true
}
