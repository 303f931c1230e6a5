package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Africa/Nairobi")
	if err != nil {
		panic(err)
	}
}

// force timezone to Nairobi because the registry portal renders its
// validity dates in the registry's local day, and servers deployed in
// other regions would disturb date logic based on
// <time.Time>.Year()/Month()/Day()
func Now() time.Time {
	return time.Now().In(Location)
}
