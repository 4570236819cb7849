package config

// City is one entry of the discovery rotation. The language hint steers the
// AI stage toward the right output language.
type City struct {
	Name     string
	Country  string
	Language string
}

// Cities is the seed rotation: Spanish-speaking markets the discovery stage
// cycles through.
var Cities = []City{
	// Spain
	{"Madrid", "Espana", "es"},
	{"Barcelona", "Espana", "es"},
	{"Valencia", "Espana", "es"},
	{"Sevilla", "Espana", "es"},
	{"Bilbao", "Espana", "es"},
	{"Malaga", "Espana", "es"},
	{"Zaragoza", "Espana", "es"},
	{"Alicante", "Espana", "es"},
	// Mexico
	{"Ciudad de Mexico", "Mexico", "es"},
	{"Guadalajara", "Mexico", "es"},
	{"Monterrey", "Mexico", "es"},
	{"Puebla", "Mexico", "es"},
	{"Queretaro", "Mexico", "es"},
	// Argentina
	{"Buenos Aires", "Argentina", "es"},
	{"Cordoba", "Argentina", "es"},
	{"Rosario", "Argentina", "es"},
	// Colombia
	{"Bogota", "Colombia", "es"},
	{"Medellin", "Colombia", "es"},
	{"Cartagena", "Colombia", "es"},
	// Chile
	{"Santiago", "Chile", "es"},
	{"Valparaiso", "Chile", "es"},
	// Peru
	{"Lima", "Peru", "es"},
	// Uruguay
	{"Montevideo", "Uruguay", "es"},
	// Ecuador
	{"Quito", "Ecuador", "es"},
	{"Guayaquil", "Ecuador", "es"},
	// Central America & Caribbean
	{"San Jose", "Costa Rica", "es"},
	{"Ciudad de Panama", "Panama", "es"},
	{"Santo Domingo", "Republica Dominicana", "es"},
	{"Guatemala City", "Guatemala", "es"},
	{"San Salvador", "El Salvador", "es"},
}

// ApolloIndustryKeywords tags marketing agencies in company search.
var ApolloIndustryKeywords = []string{
	"marketing",
	"advertising",
	"digital marketing",
	"social media",
	"publicidad",
}

// ApolloTargetTitles are the decision-maker titles people search targets.
var ApolloTargetTitles = []string{
	"CEO",
	"Founder",
	"Co-Founder",
	"Director",
	"Managing Director",
	"Owner",
	"CMO",
	"Marketing Director",
}

// ExcludedDomains are directories and platforms, not actual agencies.
var ExcludedDomains = []string{
	"clutch.co",
	"sortlist.com",
	"goodfirms.co",
	"designrush.com",
	"agencyspotter.com",
	"upcity.com",
	"g2.com",
	"capterra.com",
	"trustpilot.com",
	"yelp.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"linkedin.com",
	"youtube.com",
	"tiktok.com",
	"wikipedia.org",
	"reddit.com",
	"medium.com",
	"hubspot.com",
	"semrush.com",
	"ahrefs.com",
	"neilpatel.com",
	"hootsuite.com",
	"sproutsocial.com",
	"google.com",
}

// ContactPages are the paths probed for contact info on agency sites. The
// empty string is the homepage.
var ContactPages = []string{
	"",
	"/contacto",
	"/contact",
	"/contact-us",
	"/contactanos",
	"/about",
	"/about-us",
	"/nosotros",
	"/sobre-nosotros",
	"/equipo",
	"/team",
}

// LowPriorityEmailPrefixes mark generic mailbox names that are never worth
// outreach when anything better exists.
var LowPriorityEmailPrefixes = []string{
	"noreply",
	"no-reply",
	"no.reply",
	"donotreply",
	"mailer-daemon",
	"postmaster",
	"webmaster",
	"admin",
	"support",
	"newsletter",
	"suscripciones",
	"unsubscribe",
}

// GoodGenericPrefixes are generic but monitored mailboxes, preferred over
// the low-priority set when no personal address exists.
var GoodGenericPrefixes = []string{
	"info",
	"hello",
	"hola",
	"contacto",
	"contact",
	"ventas",
	"sales",
}
