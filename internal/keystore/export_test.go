package keystore

// OpenSQLiteStoreWithCost lets tests use a cheap bcrypt cost.
var OpenSQLiteStoreWithCost = openSQLiteStore
