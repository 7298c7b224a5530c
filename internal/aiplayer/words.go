package aiplayer

// backupPrompts seed AI-authored prompt rounds when the global pool stalls.
var backupPrompts = []string{
	"worst thing to say at a job interview",
	"rejected flavor of toothpaste",
	"the real reason the dinosaurs went extinct",
	"worst superpower to have",
	"something you should never microwave",
	"the least inspiring motivational poster",
	"worst name for a cruise ship",
	"a terrible password hint",
	"the most useless phone app",
	"worst thing to find in your cereal",
	"a bad slogan for a dentist",
	"the weirdest thing to collect",
	"worst advice from a fortune cookie",
	"something you should not bring to a potluck",
	"the least popular exhibit at the museum",
}

// backupQuips answer any prompt when the phrase cache is unavailable.
var backupQuips = []string{
	"a suspicious amount of glitter",
	"my uncle's famous meatloaf",
	"an interpretive dance routine",
	"seventeen angry raccoons",
	"a slightly damp handshake",
	"the world's loudest kazoo",
	"an expired coupon for regret",
	"a motivational foghorn",
}

// wordsByLetter feeds backronym entries: one candidate list per initial.
var wordsByLetter = map[byte][]string{
	'A': {"angry", "awesome", "ancient", "awkward", "amazing", "average"},
	'B': {"bouncy", "brave", "broken", "bizarre", "bright", "bumpy"},
	'C': {"curious", "clumsy", "crispy", "cosmic", "cheerful", "crafty"},
	'D': {"dizzy", "daring", "dusty", "dramatic", "dapper", "drowsy"},
	'E': {"eager", "electric", "elegant", "enormous", "excited", "earnest"},
	'F': {"fuzzy", "fearless", "fancy", "frozen", "friendly", "frantic"},
	'G': {"giant", "gentle", "glowing", "grumpy", "graceful", "giddy"},
	'H': {"happy", "hungry", "heroic", "hidden", "humble", "hasty"},
	'I': {"icy", "infinite", "invisible", "itchy", "iconic", "idle"},
	'J': {"jolly", "jumpy", "jagged", "jazzy", "joyful", "jittery"},
	'K': {"kind", "keen", "knobby", "kingly", "kooky", "knowing"},
	'L': {"lazy", "loud", "lucky", "lumpy", "legendary", "lively"},
	'M': {"mighty", "mysterious", "merry", "mellow", "massive", "modest"},
	'N': {"noisy", "nimble", "noble", "nervous", "nifty", "nocturnal"},
	'O': {"odd", "orange", "obvious", "orderly", "outrageous", "oval"},
	'P': {"proud", "peculiar", "playful", "polite", "prickly", "plucky"},
	'Q': {"quiet", "quick", "quirky", "quaint", "quivering", "quizzical"},
	'R': {"rapid", "rusty", "royal", "restless", "rubbery", "radiant"},
	'S': {"sleepy", "sneaky", "sparkly", "sturdy", "silly", "serious"},
	'T': {"tiny", "tricky", "tremendous", "tidy", "thirsty", "timid"},
	'U': {"unusual", "upbeat", "uneven", "urgent", "ultimate", "untidy"},
	'V': {"vivid", "vast", "velvet", "valiant", "vocal", "vintage"},
	'W': {"wobbly", "wild", "witty", "weary", "wondrous", "warm"},
	'X': {"xenial", "xeric"},
	'Y': {"young", "yawning", "yellow", "yearly", "yummy", "yielding"},
	'Z': {"zany", "zesty", "zippy", "zealous", "zigzag", "zonal"},
}
