package record

// Choice vocabularies mirrored from the records API. The intake service
// treats most of these as opaque strings; validation only constrains the
// fields called out in the session validator.

var Genders = []string{"male", "female"}

var PhysicalActivities = []string{
	"sedentary",
	"light",
	"moderate",
	"very_active",
	"extra",
}

var StressFactors = []string{
	"minor_surgery",
	"major_surgery",
	"skeletal_trauma",
	"blunt_trauma",
	"closed_head_injury",
	"mild_infection",
	"moderate_infection",
	"severe_infection",
	"starvation",
	"burns_lt_20",
	"burns_20_40",
	"burns_gt_40",
}

var WardTypes = []string{
	"outpatient",
	"icu",
	"medical",
	"cardiac",
	"others",
}

var FeedingTypes = []string{
	"oral",
	"enteral_parenteral",
	"tpn",
}
